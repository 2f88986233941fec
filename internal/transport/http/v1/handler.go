// Package v1 provides the chat and conversation HTTP handlers.
package v1

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/loreworks/ragserve/internal/rag"
	"github.com/loreworks/ragserve/internal/store"
	"github.com/loreworks/ragserve/internal/vector"
)

// OwnerHeader carries the caller's identity. Authentication happens upstream;
// here the value is an opaque identifier.
const OwnerHeader = "X-Owner-ID"

const defaultOwner = "anonymous"

// Checker probes a backing component for the health endpoint.
type Checker func(ctx context.Context) error

// Handler handles chat API requests.
type Handler struct {
	rag   *rag.Service
	docs  *vector.Store
	convs store.Store

	chunkSize    int
	chunkOverlap int

	// Component checkers for /chat/health. A nil generator checker marks
	// the generation backend as not configured.
	generatorCheck Checker
	storeCheck     Checker
}

// Config wires the handler's collaborators.
type Config struct {
	RAG            *rag.Service
	Docs           *vector.Store
	Convs          store.Store
	ChunkSize      int
	ChunkOverlap   int
	GeneratorCheck Checker
	StoreCheck     Checker
}

// NewHandler creates a new handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		rag:            cfg.RAG,
		docs:           cfg.Docs,
		convs:          cfg.Convs,
		chunkSize:      cfg.ChunkSize,
		chunkOverlap:   cfg.ChunkOverlap,
		generatorCheck: cfg.GeneratorCheck,
		storeCheck:     cfg.StoreCheck,
	}
}

// RegisterRoutes registers the chat API with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/chat/ingest", h.Ingest)
	e.POST("/chat/ingest/text", h.IngestText)
	e.POST("/chat/query", h.Query)
	e.GET("/chat/query/stream", h.QueryStream)
	e.GET("/chat/stats", h.Stats)
	e.GET("/chat/health", h.Health)
	e.DELETE("/chat/clear", h.Clear)

	e.GET("/conversations", h.ListConversations)
	e.GET("/conversations/:thread_id/messages", h.ConversationMessages)
	e.DELETE("/conversations/:thread_id", h.DeleteConversation)
}

func owner(c echo.Context) string {
	if v := c.Request().Header.Get(OwnerHeader); v != "" {
		return v
	}
	return defaultOwner
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
