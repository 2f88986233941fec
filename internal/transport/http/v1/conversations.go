package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loreworks/ragserve/internal/observability"
	"github.com/loreworks/ragserve/internal/store"
)

// ListConversations returns the caller's threads, newest first.
// GET /conversations
func (h *Handler) ListConversations(c echo.Context) error {
	convs, err := h.convs.List(c.Request().Context(), owner(c))
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "failed to list conversations")
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": convs})
}

// ConversationMessages returns the ordered transcript of a thread.
// GET /conversations/:thread_id/messages
func (h *Handler) ConversationMessages(c echo.Context) error {
	threadID := c.Param("thread_id")
	ctx := c.Request().Context()

	// Ownership check first; foreign threads read as not found.
	if _, err := h.convs.Get(ctx, threadID, owner(c)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "conversation not found")
		}
		return errorJSON(c, http.StatusInternalServerError, "failed to load conversation")
	}

	messages, err := h.convs.History(ctx, threadID)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "failed to load messages")
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"thread_id": threadID,
		"messages":  messages,
	})
}

// DeleteConversation removes a thread and its messages. Deleting a missing
// thread succeeds.
// DELETE /conversations/:thread_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	ctx := c.Request().Context()
	threadID := c.Param("thread_id")
	if err := h.convs.Delete(ctx, threadID, owner(c)); err != nil {
		return errorJSON(c, http.StatusInternalServerError, "failed to delete conversation")
	}
	observability.Metrics().ConversationsDeletedTotal.Inc()
	observability.Audit().LogConversationDelete(ctx, threadID, owner(c))
	return c.NoContent(http.StatusNoContent)
}
