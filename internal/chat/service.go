// Package chat orchestrates one chat exchange: resolve the conversation,
// persist the user turn, call the upstream API, persist the assistant turn,
// and hand the reply back for delivery.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chatrelay/internal/domain"
	"chatrelay/internal/observability"
	"chatrelay/internal/storage"
	"chatrelay/internal/upstream"
)

// UpstreamClient is the subset of the upstream client the service uses.
// It exists so tests can substitute doubles.
type UpstreamClient interface {
	Stream(ctx context.Context, query string) (<-chan upstream.StreamEvent, error)
	Generate(ctx context.Context, model, prompt string, attachments []upstream.Attachment) (string, error)
}

// Input is one inbound chat request after form decoding.
type Input struct {
	ConversationID string   // empty or the literal "null" mints a new conversation
	Prompt         string   // user prompt text
	Model          string   // requested model identifier (sync mode only)
	Placeholders   []string // one marker line per uploaded attachment
	Attachments    []upstream.Attachment
}

// StreamSession is an in-flight streaming exchange. The caller must drain
// Events; the assistant turn is persisted when the stream terminates.
type StreamSession struct {
	ConversationID  string
	NewConversation bool
	Events          <-chan upstream.StreamEvent
}

// Service implements the per-request chat state machine.
type Service struct {
	store  storage.ConversationStore
	client UpstreamClient
	logger observability.Logger
}

// NewService creates a chat service.
func NewService(store storage.ConversationStore, client UpstreamClient, logger observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.DefaultConfig())
	}
	return &Service{store: store, client: client, logger: logger.WithComponent("chat")}
}

// resolve picks the conversation id for a request and loads its history.
// A missing or literal-"null" id mints a fresh conversation.
func (s *Service) resolve(ctx context.Context, id string) (string, bool, []domain.Turn, error) {
	if id == "" || id == "null" {
		return uuid.New().String(), true, []domain.Turn{}, nil
	}
	turns, err := s.store.Load(ctx, id)
	if err != nil {
		return "", false, nil, err
	}
	return id, false, turns, nil
}

// userTurn builds the user turn content: the prompt followed by one
// placeholder line per attachment.
func userTurn(in Input) domain.Turn {
	parts := append([]string{in.Prompt}, in.Placeholders...)
	return domain.Turn{Role: domain.RoleUser, Content: strings.Join(parts, "\n")}
}

// StreamChat runs a streaming-mode exchange. The user turn is persisted
// before the upstream call; only the latest prompt is sent upstream. When
// the stream ends, the accumulated reply is persisted as the assistant turn
// unless it is empty. If the upstream call fails before any frame arrives,
// the persisted user turn is left on disk (accepted inconsistency) and an
// error is returned.
func (s *Service) StreamChat(ctx context.Context, in Input) (*StreamSession, error) {
	id, isNew, turns, err := s.resolve(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}

	turns = append(turns, userTurn(in))
	if err := s.store.Save(ctx, id, turns); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}

	eventCh, err := s.client.Stream(ctx, in.Prompt)
	if err != nil {
		return nil, err
	}

	// Forward each frame as it arrives while accumulating the full reply
	// for persistence. The assistant turn is written with a background
	// context: the request context is often cancelled right after the
	// terminal frame is delivered.
	out := make(chan upstream.StreamEvent)
	go func() {
		defer close(out)
		var full strings.Builder

		relaying := true
		for evt := range eventCh {
			full.WriteString(evt.Answer)
			if relaying {
				select {
				case out <- evt:
				case <-ctx.Done():
					// Browser gone. Keep draining so whatever already
					// arrived still gets persisted.
					relaying = false
				}
			}
			if evt.Done {
				break
			}
		}

		if full.Len() == 0 {
			return
		}
		turns = append(turns, domain.Turn{Role: domain.RoleAssistant, Content: full.String()})
		if err := s.store.Save(context.Background(), id, turns); err != nil {
			s.logger.Error("persist assistant turn failed", "conversation_id", id, "error", err)
		}
	}()

	return &StreamSession{ConversationID: id, NewConversation: isNew, Events: out}, nil
}

// SyncChat runs a synchronous multipart-mode exchange. The full transcript
// is formatted as "role: content" lines and sent upstream together with the
// attachments. On upstream failure the user turn is removed from the
// returned in-memory history, while the copy already flushed to disk is
// left in place (accepted inconsistency).
func (s *Service) SyncChat(ctx context.Context, in Input) (*domain.ChatReply, []domain.Turn, error) {
	if err := upstream.ValidateModel(in.Model); err != nil {
		return nil, nil, err
	}

	id, isNew, turns, err := s.resolve(ctx, in.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	turns = append(turns, userTurn(in))
	if err := s.store.Save(ctx, id, turns); err != nil {
		return nil, turns[:len(turns)-1], fmt.Errorf("persist user turn: %w", err)
	}

	reply, err := s.client.Generate(ctx, in.Model, FormatTranscript(turns), in.Attachments)
	if err != nil {
		// Roll back the in-memory user turn only; the on-disk copy stays.
		return nil, turns[:len(turns)-1], err
	}

	turns = append(turns, domain.Turn{Role: domain.RoleAssistant, Content: reply})
	if err := s.store.Save(ctx, id, turns); err != nil {
		s.logger.ErrorContext(ctx, "persist assistant turn failed", "conversation_id", id, "error", err)
	}

	return &domain.ChatReply{
		Response:               reply,
		ConversationID:         id,
		NewConversationCreated: isNew,
	}, turns, nil
}

// FormatTranscript renders a turn sequence as "role: content" lines, the
// prompt shape the multipart endpoint expects.
func FormatTranscript(turns []domain.Turn) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
	}
	return sb.String()
}
