package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"chatrelay/internal/domain"
	"chatrelay/internal/storage"
	"chatrelay/internal/upstream"
)

type fakeClient struct {
	streamEvents []upstream.StreamEvent
	streamErr    error

	generateReply string
	generateErr   error

	lastQuery       string
	lastModel       string
	lastPrompt      string
	lastAttachments []upstream.Attachment
}

func (f *fakeClient) Stream(_ context.Context, query string) (<-chan upstream.StreamEvent, error) {
	f.lastQuery = query
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan upstream.StreamEvent, len(f.streamEvents))
	for _, evt := range f.streamEvents {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) Generate(_ context.Context, model, prompt string, attachments []upstream.Attachment) (string, error) {
	f.lastModel = model
	f.lastPrompt = prompt
	f.lastAttachments = attachments
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return f.generateReply, nil
}

// drain consumes every relayed event; once the channel closes the assistant
// turn has been persisted.
func drain(session *StreamSession) []upstream.StreamEvent {
	var events []upstream.StreamEvent
	for evt := range session.Events {
		events = append(events, evt)
	}
	return events
}

func TestStreamChatRelaysAndPersists(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeClient{streamEvents: []upstream.StreamEvent{
		{Answer: "a"}, {Answer: "b"}, {Answer: "c"}, {Done: true},
	}}
	svc := NewService(store, client, nil)

	session, err := svc.StreamChat(context.Background(), Input{Prompt: "hello"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if !session.NewConversation {
		t.Fatalf("expected a new conversation")
	}
	if session.ConversationID == "" {
		t.Fatalf("expected a minted conversation id")
	}

	events := drain(session)
	if len(events) != 4 {
		t.Fatalf("expected 4 relayed events, got %d", len(events))
	}
	for i, want := range []string{"a", "b", "c"} {
		if events[i].Answer != want {
			t.Fatalf("event %d: expected %q, got %q", i, want, events[i].Answer)
		}
	}

	if client.lastQuery != "hello" {
		t.Fatalf("expected only the latest prompt sent upstream, got %q", client.lastQuery)
	}

	turns, err := store.Get(context.Background(), session.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(turns))
	}
	if turns[0].Role != domain.RoleUser || turns[0].Content != "hello" {
		t.Fatalf("unexpected user turn %+v", turns[0])
	}
	if turns[1].Role != domain.RoleAssistant || turns[1].Content != "abc" {
		t.Fatalf("expected accumulated reply %q, got %+v", "abc", turns[1])
	}
}

func TestStreamChatEmptyReplyNotPersisted(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeClient{streamEvents: []upstream.StreamEvent{{Done: true}}}
	svc := NewService(store, client, nil)

	session, err := svc.StreamChat(context.Background(), Input{Prompt: "hello"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	drain(session)

	turns, err := store.Get(context.Background(), session.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != domain.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", turns)
	}
}

func TestStreamChatUpstreamFailureLeavesUserTurn(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeClient{streamErr: errors.New("connect refused")}
	svc := NewService(store, client, nil)

	_, err := svc.StreamChat(context.Background(), Input{ConversationID: "conv", Prompt: "hi"})
	if err == nil {
		t.Fatalf("expected upstream error")
	}

	// The user turn was flushed before the upstream call and stays.
	turns, err := store.Get(context.Background(), "conv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "hi" {
		t.Fatalf("expected persisted user turn, got %+v", turns)
	}
}

func TestStreamChatNullIDMintsNewConversation(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeClient{streamEvents: []upstream.StreamEvent{{Answer: "x"}, {Done: true}}}
	svc := NewService(store, client, nil)

	session, err := svc.StreamChat(context.Background(), Input{ConversationID: "null", Prompt: "q"})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	if !session.NewConversation {
		t.Fatalf("expected literal null id to mint a new conversation")
	}
	if session.ConversationID == "null" {
		t.Fatalf("expected a fresh id, got the literal null")
	}
	drain(session)
}

func TestStreamChatAppendsPlaceholders(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeClient{streamEvents: []upstream.StreamEvent{{Answer: "seen"}, {Done: true}}}
	svc := NewService(store, client, nil)

	session, err := svc.StreamChat(context.Background(), Input{
		Prompt:       "describe this",
		Placeholders: []string{"[图片: cat.png]", "[图片: dog.png]"},
	})
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	drain(session)

	turns, _ := store.Get(context.Background(), session.ConversationID)
	want := "describe this\n[图片: cat.png]\n[图片: dog.png]"
	if turns[0].Content != want {
		t.Fatalf("expected user turn %q, got %q", want, turns[0].Content)
	}
}

func TestSyncChatSuccess(t *testing.T) {
	store := storage.NewMemoryStore()
	seed := []domain.Turn{
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
	}
	if err := store.Save(context.Background(), "conv", seed); err != nil {
		t.Fatalf("Save: %v", err)
	}
	client := &fakeClient{generateReply: "generated"}
	svc := NewService(store, client, nil)

	reply, history, err := svc.SyncChat(context.Background(), Input{
		ConversationID: "conv",
		Prompt:         "followup",
		Model:          upstream.ModelGemini,
	})
	if err != nil {
		t.Fatalf("SyncChat: %v", err)
	}
	if reply.Response != "generated" {
		t.Fatalf("expected reply %q, got %q", "generated", reply.Response)
	}
	if reply.ConversationID != "conv" || reply.NewConversationCreated {
		t.Fatalf("unexpected reply metadata %+v", reply)
	}

	// The full transcript goes upstream, rendered role by role.
	wantPrompt := "user: earlier question\nassistant: earlier answer\nuser: followup"
	if client.lastPrompt != wantPrompt {
		t.Fatalf("expected transcript prompt %q, got %q", wantPrompt, client.lastPrompt)
	}

	if len(history) != 4 {
		t.Fatalf("expected 4 turns in history, got %d", len(history))
	}
	turns, _ := store.Get(context.Background(), "conv")
	if len(turns) != 4 || turns[3].Content != "generated" {
		t.Fatalf("expected persisted assistant turn, got %+v", turns)
	}
}

func TestSyncChatUpstreamFailureRollsBackMemoryOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeClient{generateErr: errors.New("timeout")}
	svc := NewService(store, client, nil)

	_, history, err := svc.SyncChat(context.Background(), Input{ConversationID: "conv", Prompt: "doomed"})
	if err == nil {
		t.Fatalf("expected upstream error")
	}

	// Returned history excludes the failed user turn.
	if len(history) != 0 {
		t.Fatalf("expected rolled-back history, got %+v", history)
	}
	// The disk copy keeps it.
	turns, err := store.Get(context.Background(), "conv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "doomed" {
		t.Fatalf("expected user turn still persisted, got %+v", turns)
	}
}

func TestSyncChatRejectsUnknownModelUpfront(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeClient{generateReply: "never"}
	svc := NewService(store, client, nil)

	_, _, err := svc.SyncChat(context.Background(), Input{Prompt: "q", Model: "claude"})
	if !errors.Is(err, upstream.ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
	// Nothing was persisted for the rejected request.
	list, _ := store.List(context.Background())
	if len(list) != 0 {
		t.Fatalf("expected no persisted conversations, got %+v", list)
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript([]domain.Turn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello\nthere"},
	})
	want := "user: hi\nassistant: hello\nthere"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if FormatTranscript(nil) != "" {
		t.Fatalf("expected empty transcript for no turns")
	}
	if strings.Contains(FormatTranscript([]domain.Turn{{Role: "user", Content: "x"}}), "\n") {
		t.Fatalf("single turn must not contain a separator")
	}
}
