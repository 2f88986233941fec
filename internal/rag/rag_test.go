package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/loreworks/ragserve/internal/embed/hashing"
	"github.com/loreworks/ragserve/internal/llm"
	"github.com/loreworks/ragserve/internal/store"
	"github.com/loreworks/ragserve/internal/vector"
	"github.com/loreworks/ragserve/internal/vector/memory"
)

// mockGenerator scripts the generation stage.
type mockGenerator struct {
	deltas     []string
	err        error
	lastPrompt *llm.Prompt
	lastOpts   *llm.RequestOptions
}

func (m *mockGenerator) Name() string { return "mock" }

func (m *mockGenerator) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	m.lastPrompt = prompt
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Content: strings.Join(m.deltas, "")}, nil
}

func (m *mockGenerator) CompleteStream(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions, onDelta func(string) error) (*llm.Response, error) {
	m.lastPrompt = prompt
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	for _, d := range m.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
	}
	return &llm.Response{Content: strings.Join(m.deltas, "")}, nil
}

func (m *mockGenerator) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("mock: no embeddings")
}

type failingRetriever struct{}

func (failingRetriever) Query(context.Context, string, int) ([]vector.SearchResult, error) {
	return nil, errors.New("vector store down")
}

// failingConvStore errors on every operation, simulating a dead database.
type failingConvStore struct{}

func (failingConvStore) GetOrCreate(context.Context, string, string, string) (*store.Conversation, error) {
	return nil, errors.New("database is closed")
}
func (failingConvStore) Get(context.Context, string, string) (*store.Conversation, error) {
	return nil, errors.New("database is closed")
}
func (failingConvStore) Append(context.Context, string, store.Message) error {
	return errors.New("database is closed")
}
func (failingConvStore) History(context.Context, string) ([]store.Message, error) {
	return nil, errors.New("database is closed")
}
func (failingConvStore) List(context.Context, string) ([]store.Conversation, error) {
	return nil, errors.New("database is closed")
}
func (failingConvStore) Delete(context.Context, string, string) error {
	return errors.New("database is closed")
}
func (failingConvStore) Close() error { return nil }

func newVectorStore(t *testing.T, docs ...string) *vector.Store {
	t.Helper()
	s := vector.NewStore(hashing.New(256), memory.New())
	if len(docs) > 0 {
		inputs := make([]vector.DocumentInput, len(docs))
		for i, d := range docs {
			inputs[i] = vector.DocumentInput{Content: d}
		}
		if _, err := s.Add(context.Background(), inputs); err != nil {
			t.Fatalf("seed documents: %v", err)
		}
	}
	return s
}

func newConvStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAnswer_RetrievesRelevantContext(t *testing.T) {
	vs := newVectorStore(t, "The sky is blue.", "Grass is green.")
	gen := &mockGenerator{deltas: []string{"The sky is blue."}}
	svc := New(vs, gen, nil, Config{TopK: 1})

	res, err := svc.Answer(context.Background(), "What color is the sky?", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Context) != 1 || res.Context[0] != "The sky is blue." {
		t.Errorf("expected sky chunk as context, got %v", res.Context)
	}
	if res.Answer != "The sky is blue." {
		t.Errorf("unexpected answer: %q", res.Answer)
	}
	if res.Degraded {
		t.Error("answer should not be degraded")
	}
}

func TestAnswer_RetrievalFailureIsFatal(t *testing.T) {
	svc := New(failingRetriever{}, &mockGenerator{}, nil, Config{})

	_, err := svc.Answer(context.Background(), "query", "", "")
	if err == nil {
		t.Fatal("expected error for retrieval failure")
	}
	if !strings.Contains(err.Error(), "retrieve") {
		t.Errorf("expected retrieve stage in error, got: %v", err)
	}
}

func TestAnswer_GenerationFailureIsDegraded(t *testing.T) {
	vs := newVectorStore(t, "Some document.")
	gen := &mockGenerator{err: errors.New("connection refused")}
	svc := New(vs, gen, nil, Config{})

	res, err := svc.Answer(context.Background(), "query", "", "")
	if err != nil {
		t.Fatalf("generation failure must not abort the pipeline: %v", err)
	}
	if !res.Degraded {
		t.Error("expected degraded result")
	}
	if !strings.Contains(res.Answer, "generation backend") {
		t.Errorf("expected explanatory answer, got %q", res.Answer)
	}
}

func TestAnswer_EmptyCollectionPlaceholder(t *testing.T) {
	vs := newVectorStore(t)
	svc := New(vs, nil, nil, Config{})

	res, err := svc.Answer(context.Background(), "anything", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Context) != 0 {
		t.Errorf("expected empty context, got %v", res.Context)
	}
	if res.Answer == "" || res.Degraded {
		t.Errorf("expected non-error placeholder answer, got %q (degraded=%v)", res.Answer, res.Degraded)
	}
}

func TestAnswerStream_ForwardsDeltas(t *testing.T) {
	vs := newVectorStore(t, "The sky is blue.")
	gen := &mockGenerator{deltas: []string{"The sky ", "is blue."}}
	svc := New(vs, gen, nil, Config{})

	var got []string
	res, err := svc.AnswerStream(context.Background(), "sky color?", "", "", func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(got))
	}
	if res.Answer != "The sky is blue." {
		t.Errorf("expected assembled answer, got %q", res.Answer)
	}
}

func TestAnswerStream_PersistsUserThenAssistant(t *testing.T) {
	vs := newVectorStore(t, "The sky is blue.")
	gen := &mockGenerator{deltas: []string{"Blue."}}
	convs := newConvStore(t)
	svc := New(vs, gen, convs, Config{})

	_, err := svc.AnswerStream(context.Background(), "sky color?", "t1", "alice", func(string) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history, _ := convs.History(context.Background(), "t1")
	if len(history) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(history))
	}
	if history[0].Role != store.RoleUser || history[0].Content != "sky color?" {
		t.Errorf("unexpected first message: %+v", history[0])
	}
	if history[1].Role != store.RoleAssistant || history[1].Content != "Blue." {
		t.Errorf("unexpected second message: %+v", history[1])
	}
}

func TestAnswerStream_DisconnectSkipsPersistence(t *testing.T) {
	vs := newVectorStore(t, "The sky is blue.")
	gen := &mockGenerator{deltas: []string{"partial ", "answer"}}
	convs := newConvStore(t)
	svc := New(vs, gen, convs, Config{})

	calls := 0
	_, err := svc.AnswerStream(context.Background(), "sky?", "t1", "alice", func(string) error {
		calls++
		return errors.New("client gone")
	})
	if err == nil {
		t.Fatal("expected error after consumer disconnect")
	}
	if calls != 1 {
		t.Errorf("expected generation to stop after disconnect, got %d deltas", calls)
	}

	history, _ := convs.History(context.Background(), "t1")
	if len(history) != 0 {
		t.Fatalf("no messages may be persisted after a disconnect, got %d", len(history))
	}
}

func TestAnswer_DegradedTurnNotPersisted(t *testing.T) {
	vs := newVectorStore(t, "doc")
	gen := &mockGenerator{err: errors.New("connection refused")}
	convs := newConvStore(t)
	svc := New(vs, gen, convs, Config{})

	res, err := svc.Answer(context.Background(), "query", "t1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Degraded {
		t.Fatal("expected degraded result")
	}

	history, _ := convs.History(context.Background(), "t1")
	if len(history) != 0 {
		t.Fatalf("degraded turns must not be persisted, got %d messages", len(history))
	}
}

func TestAnswer_HistoryIncludedInPrompt(t *testing.T) {
	vs := newVectorStore(t, "The sky is blue.")
	gen := &mockGenerator{deltas: []string{"As before, blue."}}
	convs := newConvStore(t)
	svc := New(vs, gen, convs, Config{})

	ctx := context.Background()
	convs.GetOrCreate(ctx, "t1", "alice", "chat")
	convs.Append(ctx, "t1", store.Message{Role: store.RoleUser, Content: "What color is the sky?"})
	convs.Append(ctx, "t1", store.Message{Role: store.RoleAssistant, Content: "The sky is blue."})

	_, err := svc.Answer(ctx, "And at sunset?", "t1", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := gen.lastPrompt
	if p == nil {
		t.Fatal("generator was not called")
	}
	// prior user, prior assistant, current user
	if len(p.Messages) != 3 {
		t.Fatalf("expected 3 prompt messages, got %d", len(p.Messages))
	}
	if p.Messages[0].Content != "What color is the sky?" {
		t.Errorf("unexpected first history message: %q", p.Messages[0].Content)
	}
	if p.Messages[1].Role != llm.RoleAssistant {
		t.Errorf("unexpected second history role: %s", p.Messages[1].Role)
	}
	if !strings.Contains(p.Messages[2].Content, "And at sunset?") {
		t.Errorf("expected current question in last message, got %q", p.Messages[2].Content)
	}
	if p.SystemPrompt == "" {
		t.Error("expected a system instruction")
	}
}

func TestAnswer_OwnershipViolationSurfaces(t *testing.T) {
	vs := newVectorStore(t, "doc")
	gen := &mockGenerator{deltas: []string{"answer"}}
	convs := newConvStore(t)
	svc := New(vs, gen, convs, Config{})

	ctx := context.Background()
	convs.GetOrCreate(ctx, "t1", "alice", "chat")

	_, err := svc.Answer(ctx, "query", "t1", "bob")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign thread, got %v", err)
	}
}

func TestAnswer_PassesSamplingOptions(t *testing.T) {
	vs := newVectorStore(t, "doc")
	gen := &mockGenerator{deltas: []string{"answer"}}
	svc := New(vs, gen, nil, Config{MaxTokens: 512, Temperature: 0.2})

	if _, err := svc.Answer(context.Background(), "query", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	opts := gen.lastOpts
	if opts == nil {
		t.Fatal("expected request options to reach the provider")
	}
	if opts.MaxTokens == nil || *opts.MaxTokens != 512 {
		t.Errorf("expected max tokens 512, got %v", opts.MaxTokens)
	}
	if opts.Temperature == nil || *opts.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", opts.Temperature)
	}
}

func TestAnswer_ConversationStoreFailureIsMarked(t *testing.T) {
	vs := newVectorStore(t, "doc")
	gen := &mockGenerator{deltas: []string{"answer"}}
	svc := New(vs, gen, failingConvStore{}, Config{})

	_, err := svc.Answer(context.Background(), "query", "t1", "alice")
	if err == nil {
		t.Fatal("expected error when the conversation store is down")
	}
	if !errors.Is(err, ErrConversation) {
		t.Errorf("expected ErrConversation, got %v", err)
	}
	if errors.Is(err, store.ErrNotFound) {
		t.Error("store failure must not masquerade as not-found")
	}
}

func TestAnswer_StripsThinkingTags(t *testing.T) {
	vs := newVectorStore(t, "doc")
	gen := &mockGenerator{deltas: []string{"<think>reasoning</think>The answer."}}
	svc := New(vs, gen, nil, Config{})

	res, err := svc.Answer(context.Background(), "query", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "The answer." {
		t.Errorf("expected thinking tags stripped, got %q", res.Answer)
	}
}
