// Package observability provides tracing, metrics, and audit logging.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventQuery       AuditEventType = "chat.query"
	AuditEventIngest      AuditEventType = "chat.ingest"
	AuditEventClear       AuditEventType = "chat.clear"
	AuditEventConvCreate  AuditEventType = "conversation.create"
	AuditEventConvDelete  AuditEventType = "conversation.delete"
	AuditEventLLMRequest  AuditEventType = "llm.request"
	AuditEventLLMResponse AuditEventType = "llm.response"
	AuditEventLLMError    AuditEventType = "llm.error"
	AuditEventServerStart AuditEventType = "server.start"
	AuditEventServerStop  AuditEventType = "server.stop"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventType   AuditEventType         `json:"event_type"`
	SessionID   string                 `json:"session_id"`
	ThreadID    string                 `json:"thread_id,omitempty"`
	OwnerID     string                 `json:"owner_id,omitempty"`
	Success     bool                   `json:"success"`
	Duration    time.Duration          `json:"duration_ms,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		enabled:   config.Enabled,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Fill in defaults
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogQuery logs a completed chat query.
func (l *AuditLogger) LogQuery(ctx context.Context, threadID, ownerID string, duration time.Duration, resultCount int, degraded bool) {
	l.Log(&AuditEvent{
		EventType: AuditEventQuery,
		ThreadID:  threadID,
		OwnerID:   ownerID,
		Success:   !degraded,
		Duration:  duration,
		Message:   "Query answered",
		Details: map[string]interface{}{
			"result_count": resultCount,
			"degraded":     degraded,
		},
	})
}

// LogIngest logs a document ingestion.
func (l *AuditLogger) LogIngest(ctx context.Context, docCount, totalCount int) {
	l.Log(&AuditEvent{
		EventType: AuditEventIngest,
		Success:   true,
		Message:   fmt.Sprintf("Ingested %d documents", docCount),
		Details: map[string]interface{}{
			"doc_count":   docCount,
			"total_count": totalCount,
		},
	})
}

// LogClear logs a collection wipe.
func (l *AuditLogger) LogClear(ctx context.Context) {
	l.Log(&AuditEvent{
		EventType: AuditEventClear,
		Success:   true,
		Message:   "Collection cleared",
	})
}

// LogConversationCreate logs a new conversation thread.
func (l *AuditLogger) LogConversationCreate(ctx context.Context, threadID, ownerID string) {
	l.Log(&AuditEvent{
		EventType: AuditEventConvCreate,
		ThreadID:  threadID,
		OwnerID:   ownerID,
		Success:   true,
		Message:   "Conversation created",
	})
}

// LogConversationDelete logs a conversation deletion.
func (l *AuditLogger) LogConversationDelete(ctx context.Context, threadID, ownerID string) {
	l.Log(&AuditEvent{
		EventType: AuditEventConvDelete,
		ThreadID:  threadID,
		OwnerID:   ownerID,
		Success:   true,
		Message:   "Conversation deleted",
	})
}

// LogLLMRequest logs an LLM request event.
func (l *AuditLogger) LogLLMRequest(ctx context.Context, provider, model string) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMRequest,
		Success:   true,
		Message:   fmt.Sprintf("LLM request to %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogLLMResponse logs an LLM response event.
func (l *AuditLogger) LogLLMResponse(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int) {
	l.Log(&AuditEvent{
		EventType: AuditEventLLMResponse,
		Success:   true,
		Duration:  duration,
		Message:   fmt.Sprintf("LLM response from %s/%s", provider, model),
		Details: map[string]interface{}{
			"provider":      provider,
			"model":         model,
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
			"total_tokens":  inputTokens + outputTokens,
		},
	})
}

// LogLLMError logs an LLM error event.
func (l *AuditLogger) LogLLMError(ctx context.Context, provider, model string, err error) {
	l.Log(&AuditEvent{
		EventType:   AuditEventLLMError,
		Success:     false,
		Message:     fmt.Sprintf("LLM error from %s/%s", provider, model),
		ErrorDetail: err.Error(),
		Details: map[string]interface{}{
			"provider": provider,
			"model":    model,
		},
	})
}

// LogServerStart logs service startup.
func (l *AuditLogger) LogServerStart(ctx context.Context, addr, vectorBackend, provider string) {
	l.Log(&AuditEvent{
		EventType: AuditEventServerStart,
		Success:   true,
		Message:   "Server started on " + addr,
		Details: map[string]interface{}{
			"vector_backend": vectorBackend,
			"llm_provider":   provider,
		},
	})
}

// LogServerStop logs service shutdown.
func (l *AuditLogger) LogServerStop(ctx context.Context) {
	l.Log(&AuditEvent{
		EventType: AuditEventServerStop,
		Success:   true,
		Message:   "Server stopped",
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// Global audit logger instance
var globalAuditLogger *AuditLogger
var auditOnce sync.Once

// InitGlobalAuditLogger initializes the global audit logger.
func InitGlobalAuditLogger(config *AuditConfig) error {
	var err error
	auditOnce.Do(func() {
		globalAuditLogger, err = NewAuditLogger(config)
	})
	return err
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if globalAuditLogger == nil {
		// Return a disabled logger if not initialized
		return &AuditLogger{enabled: false}
	}
	return globalAuditLogger
}
