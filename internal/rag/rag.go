// Package rag composes retrieval and generation into the two-stage answer
// pipeline: retrieve context for a query, then stream a generated answer,
// persisting conversation turns across requests.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loreworks/ragserve/internal/llm"
	"github.com/loreworks/ragserve/internal/observability"
	"github.com/loreworks/ragserve/internal/store"
	"github.com/loreworks/ragserve/internal/vector"
)

// DefaultSystemPrompt instructs the model to stay grounded in the retrieved
// context.
const DefaultSystemPrompt = "You are a helpful assistant. Answer using only the provided context. " +
	"If the context does not contain the answer, say you do not know. Be concise."

// ErrConversation marks failures reaching the conversation store, as opposed
// to retrieval failures. Callers use it to report the right backend.
var ErrConversation = errors.New("conversation store failed")

// Retriever returns the k most relevant chunks for a query.
// vector.Store satisfies this.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]vector.SearchResult, error)
}

// Config tunes the pipeline.
type Config struct {
	TopK         int           // retrieved chunks per query (default 3)
	SystemPrompt string        // system instruction (default DefaultSystemPrompt)
	HistoryLimit int           // max prior messages included in the prompt (default 20)
	GenTimeout   time.Duration // upper bound on the generation call (default 60s)

	// Generation sampling controls; zero means the provider default.
	MaxTokens   int
	Temperature float64
}

func (c Config) requestOptions() *llm.RequestOptions {
	opts := &llm.RequestOptions{}
	if c.MaxTokens > 0 {
		opts.MaxTokens = llm.IntPtr(c.MaxTokens)
	}
	if c.Temperature > 0 {
		opts.Temperature = llm.Float64Ptr(c.Temperature)
	}
	return opts
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.GenTimeout <= 0 {
		c.GenTimeout = 60 * time.Second
	}
	return c
}

// Result is the outcome of one pipeline run.
type Result struct {
	Query    string   `json:"query"`
	Context  []string `json:"context"`
	Answer   string   `json:"answer"`
	Degraded bool     `json:"-"`
}

// Service runs the retrieve-then-generate pipeline.
type Service struct {
	retriever Retriever
	provider  llm.Provider // nil means retrieval-only answers
	convs     store.Store  // nil disables conversation persistence
	cfg       Config
	genOpts   *llm.RequestOptions
}

// New creates a Service. provider and convs may be nil; the pipeline then
// degrades to retrieval-only, stateless answers.
func New(retriever Retriever, provider llm.Provider, convs store.Store, cfg Config) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		retriever: retriever,
		provider:  provider,
		convs:     convs,
		cfg:       cfg,
		genOpts:   cfg.requestOptions(),
	}
}

// GeneratorAvailable reports whether a generation backend is configured.
func (s *Service) GeneratorAvailable() bool { return s.provider != nil }

// Answer runs the full pipeline and returns the complete answer.
func (s *Service) Answer(ctx context.Context, query, threadID, ownerID string) (*Result, error) {
	return s.run(ctx, query, threadID, ownerID, nil)
}

// AnswerStream runs the pipeline, forwarding answer fragments to onDelta as
// they are produced. If onDelta returns an error (consumer disconnect),
// generation stops and the assistant turn is not persisted.
func (s *Service) AnswerStream(ctx context.Context, query, threadID, ownerID string, onDelta func(string) error) (*Result, error) {
	return s.run(ctx, query, threadID, ownerID, onDelta)
}

func (s *Service) run(ctx context.Context, query, threadID, ownerID string, onDelta func(string) error) (*Result, error) {
	started := time.Now()

	// RETRIEVE. Failure here is fatal: there is no answer without an
	// attempt at context.
	ctx, retrieveSpan := observability.StartRetrieveSpan(ctx, s.cfg.TopK)
	results, err := s.retriever.Query(ctx, query, s.cfg.TopK)
	if err != nil {
		observability.RecordError(retrieveSpan, err)
		retrieveSpan.End()
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	observability.RecordRetrieveResult(retrieveSpan, len(results))
	retrieveSpan.End()

	contextChunks := make([]string, len(results))
	for i, r := range results {
		contextChunks[i] = r.Content
	}

	history, conv, err := s.loadHistory(ctx, threadID, ownerID, query)
	if err != nil {
		return nil, err
	}

	// GENERATE. Backend failure is a degraded answer, not a pipeline abort.
	res := &Result{Query: query, Context: contextChunks}
	answer, degraded, err := s.generate(ctx, query, contextChunks, history, onDelta)
	if err != nil {
		// Only the consumer going away aborts the stream outright.
		return nil, err
	}
	res.Answer = answer
	res.Degraded = degraded

	// Persist the turn only when generation completed normally.
	if conv != nil && !degraded {
		if err := s.persistTurn(ctx, threadID, query, answer); err != nil {
			return nil, err
		}
	}

	observability.Metrics().RecordQuery(time.Since(started), len(results), degraded)
	observability.Audit().LogQuery(ctx, threadID, ownerID, time.Since(started), len(results), degraded)
	return res, nil
}

func (s *Service) loadHistory(ctx context.Context, threadID, ownerID, query string) ([]store.Message, *store.Conversation, error) {
	if threadID == "" || s.convs == nil {
		return nil, nil, nil
	}
	conv, err := s.convs.GetOrCreate(ctx, threadID, ownerID, titleFrom(query))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrConversation, err)
	}
	history, err := s.convs.History(ctx, threadID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: history: %v", ErrConversation, err)
	}
	if len(history) > s.cfg.HistoryLimit {
		history = history[len(history)-s.cfg.HistoryLimit:]
	}
	return history, conv, nil
}

// generate produces the answer text. The bool result marks degraded answers
// that replaced a generation failure. An error is returned only when the
// consumer aborted the stream.
func (s *Service) generate(ctx context.Context, query string, contextChunks []string, history []store.Message, onDelta func(string) error) (string, bool, error) {
	if s.provider == nil {
		answer := retrievalOnlyAnswer(contextChunks)
		if onDelta != nil {
			if err := onDelta(answer); err != nil {
				return "", false, err
			}
		}
		return answer, false, nil
	}

	prompt := s.buildPrompt(query, contextChunks, history)

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenTimeout)
	defer cancel()

	ctx, span := observability.StartGenerateSpan(genCtx, s.provider.Name(), onDelta != nil)
	defer span.End()

	observability.Audit().LogLLMRequest(ctx, s.provider.Name(), "")

	started := time.Now()
	var resp *llm.Response
	var err error
	var aborted error
	if onDelta != nil {
		resp, err = s.provider.CompleteStream(ctx, prompt, s.genOpts, func(delta string) error {
			if cbErr := onDelta(delta); cbErr != nil {
				aborted = cbErr
				return cbErr
			}
			return nil
		})
	} else {
		resp, err = s.provider.Complete(ctx, prompt, s.genOpts)
	}

	if aborted != nil {
		observability.RecordError(span, aborted)
		return "", false, aborted
	}
	if err != nil {
		observability.RecordError(span, err)
		observability.Metrics().RecordLLMRequest(time.Since(started), 0, err)
		observability.Audit().LogLLMError(ctx, s.provider.Name(), "", err)
		answer := degradedAnswer(err)
		if onDelta != nil {
			if cbErr := onDelta(answer); cbErr != nil {
				return "", false, cbErr
			}
		}
		return answer, true, nil
	}

	observability.RecordLLMMetrics(span, resp.InputTokens, resp.OutputTokens, time.Since(started))
	observability.Metrics().RecordLLMRequest(time.Since(started), resp.InputTokens+resp.OutputTokens, nil)
	observability.Audit().LogLLMResponse(ctx, s.provider.Name(), "", time.Since(started), resp.InputTokens, resp.OutputTokens)
	return llm.StripThinkingTags(resp.Content), false, nil
}

func (s *Service) buildPrompt(query string, contextChunks []string, history []store.Message) *llm.Prompt {
	var b strings.Builder
	if len(contextChunks) > 0 {
		b.WriteString("Context:\n")
		for _, c := range contextChunks {
			b.WriteString(c)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No relevant context was found in the knowledge base. " +
			"Say so, then answer from general knowledge if you can.\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(query)

	var msgs []llm.Message
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: b.String()})

	return &llm.Prompt{
		SystemPrompt: s.cfg.SystemPrompt,
		Messages:     msgs,
	}
}

// persistTurn appends the user message, then the assistant message, in that
// order.
func (s *Service) persistTurn(ctx context.Context, threadID, query, answer string) error {
	if err := s.convs.Append(ctx, threadID, store.Message{Role: store.RoleUser, Content: query}); err != nil {
		return fmt.Errorf("%w: %v", ErrConversation, err)
	}
	if err := s.convs.Append(ctx, threadID, store.Message{Role: store.RoleAssistant, Content: answer}); err != nil {
		return fmt.Errorf("%w: %v", ErrConversation, err)
	}
	return nil
}

func titleFrom(query string) string {
	title := strings.TrimSpace(query)
	if runes := []rune(title); len(runes) > 50 {
		title = string(runes[:50])
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}

func retrievalOnlyAnswer(contextChunks []string) string {
	if len(contextChunks) == 0 {
		return "No relevant context was found in the knowledge base. " +
			"Ingest documents and try again."
	}
	return "No generation backend is configured. Most relevant context:\n\n" +
		strings.Join(contextChunks, "\n")
}

func degradedAnswer(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Error: the generation backend timed out. Please try again."
	}
	return "Error: cannot reach the generation backend. " +
		"Please check that it is running and try again."
}
