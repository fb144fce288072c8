package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/uploads"
	"chatrelay/internal/upstream"
)

// maxUploadMemory bounds the in-memory portion of a parsed multipart form;
// larger file parts spill to temporary files.
const maxUploadMemory = 32 << 20

// streamWriteDeadline is how long a streaming response may stay open past
// the server's write timeout.
const streamWriteDeadline = 5 * time.Minute

// handleChat runs one chat exchange.
// POST /api/chat, multipart form: conversation_id (optional), prompt,
// model (optional), images (zero or more file parts).
// The response is either an SSE stream or one JSON object, per server mode.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeErr(ctx, w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}

	prompt := r.FormValue("prompt")
	if strings.TrimSpace(prompt) == "" {
		s.writeErr(ctx, w, http.StatusBadRequest, "prompt is required", "")
		return
	}

	in := chat.Input{
		ConversationID: r.FormValue("conversation_id"),
		Prompt:         prompt,
		Model:          r.FormValue("model"),
	}

	// Transient attachments live exactly as long as this request.
	var saved []uploads.SavedFile
	defer func() { s.saver.Cleanup(saved) }()

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["images"] {
			if fh == nil || fh.Filename == "" {
				continue
			}
			sf, err := s.saver.Save(fh)
			if err != nil {
				s.writeErr(ctx, w, http.StatusInternalServerError, "failed to save upload", err.Error())
				return
			}
			saved = append(saved, sf)
			in.Placeholders = append(in.Placeholders, sf.Placeholder)
			in.Attachments = append(in.Attachments, upstream.Attachment{Path: sf.Path, Filename: sf.Filename})
		}
	}

	switch s.mode {
	case config.ModeSync:
		s.handleChatSync(w, r, in)
	default:
		s.handleChatStream(w, r, in)
	}
}

// handleChatSync blocks on the multipart endpoint and replies with one JSON
// object carrying the full response and the conversation id.
func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request, in chat.Input) {
	ctx := r.Context()

	reply, _, err := s.chat.SyncChat(ctx, in)
	if err != nil {
		s.metrics.ObserveChat("sync", "error")
		if errors.Is(err, upstream.ErrUnsupportedModel) {
			s.writeErr(ctx, w, http.StatusBadRequest, "unsupported model", err.Error())
			return
		}
		s.writeErr(ctx, w, http.StatusInternalServerError, "chat failed", err.Error())
		return
	}
	s.metrics.ObserveChat("sync", "ok")
	writeJSON(w, http.StatusOK, reply)
}

// handleChatStream relays the upstream SSE stream to the browser frame by
// frame. The first frame is a meta event carrying the conversation id; each
// upstream answer fragment becomes exactly one "data:" frame; the literal
// [DONE] frame terminates the stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, in chat.Input) {
	ctx := r.Context()

	session, err := s.chat.StreamChat(ctx, in)
	if err != nil {
		s.metrics.ObserveChat("stream", "error")
		s.writeErr(ctx, w, http.StatusInternalServerError, "chat failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Extend the write deadline past the server-wide write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(streamWriteDeadline))

	meta, _ := json.Marshal(map[string]any{
		"conversation_id":          session.ConversationID,
		"new_conversation_created": session.NewConversation,
	})
	_, _ = fmt.Fprintf(w, "event: meta\ndata: %s\n\n", meta)
	_ = rc.Flush()

	frames := 0
	for evt := range session.Events {
		if evt.Done {
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
			_ = rc.Flush()
			break
		}
		data, _ := json.Marshal(map[string]string{"answer": evt.Answer})
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Browser gone; the relay goroutine notices via context
			// cancellation and still persists what accumulated.
			break
		}
		if err := rc.Flush(); err != nil {
			break
		}
		frames++
	}
	s.metrics.AddStreamFrames(frames)
	s.metrics.ObserveChat("stream", "ok")
}
