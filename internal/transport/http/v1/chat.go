package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/loreworks/ragserve/internal/chunker"
	"github.com/loreworks/ragserve/internal/observability"
	"github.com/loreworks/ragserve/internal/rag"
	"github.com/loreworks/ragserve/internal/store"
	"github.com/loreworks/ragserve/internal/vector"
)

// IngestRequest is one document to ingest.
type IngestRequest struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Ingest adds documents to the vector collection.
// POST /chat/ingest
func (h *Handler) Ingest(c echo.Context) error {
	var docs []IngestRequest
	if err := c.Bind(&docs); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if len(docs) == 0 {
		return errorJSON(c, http.StatusBadRequest, "no documents provided")
	}
	for i, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("document %d has empty content", i))
		}
	}

	inputs := make([]vector.DocumentInput, len(docs))
	for i, d := range docs {
		inputs[i] = vector.DocumentInput{Content: d.Content, Metadata: d.Metadata}
	}

	ctx, span := observability.StartIngestSpan(c.Request().Context(), len(inputs))
	defer span.End()

	ids, err := h.docs.Add(ctx, inputs)
	if err != nil {
		observability.RecordError(span, err)
		return errorJSON(c, http.StatusServiceUnavailable, fmt.Sprintf("ingestion failed: %v", err))
	}

	count, err := h.docs.Count(ctx)
	if err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, fmt.Sprintf("count failed: %v", err))
	}

	observability.Metrics().RecordIngest(len(ids))
	observability.Audit().LogIngest(ctx, len(ids), count)

	return c.JSON(http.StatusOK, map[string]any{
		"message":        fmt.Sprintf("ingested %d documents", len(ids)),
		"ids":            ids,
		"document_count": count,
	})
}

// IngestTextRequest is a free-text document chunked server-side.
type IngestTextRequest struct {
	Text string `json:"text"`
}

// IngestText chunks a free-text document and ingests the chunks.
// POST /chat/ingest/text
func (h *Handler) IngestText(c echo.Context) error {
	var req IngestTextRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return errorJSON(c, http.StatusBadRequest, "text is required")
	}

	chunks := chunker.Split(req.Text, h.chunkSize, h.chunkOverlap)
	inputs := make([]vector.DocumentInput, len(chunks))
	for i, chunk := range chunks {
		inputs[i] = vector.DocumentInput{Content: chunk}
	}

	ctx, span := observability.StartIngestSpan(c.Request().Context(), len(inputs))
	defer span.End()

	ids, err := h.docs.Add(ctx, inputs)
	if err != nil {
		observability.RecordError(span, err)
		return errorJSON(c, http.StatusServiceUnavailable, fmt.Sprintf("ingestion failed: %v", err))
	}
	count, err := h.docs.Count(ctx)
	if err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, fmt.Sprintf("count failed: %v", err))
	}

	observability.Metrics().RecordIngest(len(ids))
	observability.Audit().LogIngest(ctx, len(ids), count)

	return c.JSON(http.StatusOK, map[string]any{
		"message":        fmt.Sprintf("ingested %d chunks", len(ids)),
		"chunk_count":    len(ids),
		"document_count": count,
	})
}

// QueryRequest asks a question, optionally within a conversation thread.
type QueryRequest struct {
	Query    string `json:"query"`
	ThreadID string `json:"thread_id,omitempty"`
}

// Query runs the pipeline and returns the complete answer.
// POST /chat/query
func (h *Handler) Query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return errorJSON(c, http.StatusBadRequest, "query is required")
	}

	ctx := c.Request().Context()
	res, err := h.rag.Answer(ctx, req.Query, req.ThreadID, owner(c))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return errorJSON(c, http.StatusNotFound, "conversation not found")
		case errors.Is(err, rag.ErrConversation):
			return errorJSON(c, http.StatusServiceUnavailable, "conversation store unavailable")
		}
		// Retrieval failure. Still an HTTP success with an explanatory
		// answer so clients degrade gracefully.
		return c.JSON(http.StatusOK, map[string]any{
			"query":   req.Query,
			"context": []string{},
			"answer":  "Error: the document store is unreachable. Please try again later.",
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"query":   res.Query,
		"context": res.Context,
		"answer":  res.Answer,
	})
}

// QueryStream streams the answer as server-sent events: data frames carry
// {"content": token} or {"error": message}, terminated by "data: [DONE]".
// GET /chat/query/stream?q=...&thread_id=...
func (h *Handler) QueryStream(c echo.Context) error {
	query := c.QueryParam("q")
	if strings.TrimSpace(query) == "" {
		return errorJSON(c, http.StatusBadRequest, "q is required")
	}
	threadID := c.QueryParam("thread_id")

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return errorJSON(c, http.StatusInternalServerError, "streaming not supported")
	}

	writeFrame := func(payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	observability.Metrics().ActiveStreams.Inc()
	defer observability.Metrics().ActiveStreams.Dec()

	ctx := c.Request().Context()
	_, err := h.rag.AnswerStream(ctx, query, threadID, owner(c), func(delta string) error {
		return writeFrame(map[string]string{"content": delta})
	})
	if err != nil && !errors.Is(err, ctx.Err()) {
		msg := "query failed"
		switch {
		case errors.Is(err, store.ErrNotFound):
			msg = "conversation not found"
		case errors.Is(err, rag.ErrConversation):
			msg = "conversation store unavailable"
		}
		_ = writeFrame(map[string]string{"error": msg})
	}

	fmt.Fprintf(c.Response().Writer, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

// Stats reports document count and generator reachability.
// GET /chat/stats
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	count, err := h.docs.Count(ctx)
	if err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, fmt.Sprintf("count failed: %v", err))
	}

	available := h.rag.GeneratorAvailable()
	if available && h.generatorCheck != nil {
		available = h.generatorCheck(ctx) == nil
	}

	return c.JSON(http.StatusOK, map[string]any{
		"document_count":      count,
		"generator_available": available,
	})
}

// Health reports overall and per-component status.
// GET /chat/health
func (h *Handler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	components := map[string]string{}
	status := "healthy"

	if _, err := h.docs.Count(ctx); err != nil {
		components["vector_store"] = "unreachable"
		status = "degraded"
	} else {
		components["vector_store"] = "healthy"
	}

	if h.storeCheck != nil {
		if err := h.storeCheck(ctx); err != nil {
			components["conversation_store"] = "unreachable"
			status = "degraded"
		} else {
			components["conversation_store"] = "healthy"
		}
	}

	switch {
	case !h.rag.GeneratorAvailable():
		components["generator"] = "not_configured"
		status = "degraded"
	case h.generatorCheck != nil && h.generatorCheck(ctx) != nil:
		components["generator"] = "unreachable"
		status = "degraded"
	default:
		components["generator"] = "healthy"
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":     status,
		"components": components,
	})
}

// Clear deletes every document in the vector collection.
// DELETE /chat/clear
func (h *Handler) Clear(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.docs.Clear(ctx); err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, fmt.Sprintf("clear failed: %v", err))
	}
	observability.Metrics().CollectionClearsTotal.Inc()
	observability.Audit().LogClear(ctx)
	return c.JSON(http.StatusOK, map[string]string{"message": "collection cleared"})
}
