package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/services"
)

type ChatHandler struct {
	log     *logger.Logger
	chat    services.ChatService
	sources services.WebSourceService
}

func NewChatHandler(log *logger.Logger, chatService services.ChatService, sourceService services.WebSourceService) *ChatHandler {
	return &ChatHandler{
		log:     log.With("handler", "ChatHandler"),
		chat:    chatService,
		sources: sourceService,
	}
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	PolicyID  int64  `json:"policy_id"`
	Message   string `json:"message"`
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.chat.Chat(c.Request.Context(), req.SessionID, req.PolicyID, req.Message)
	if err != nil {
		h.log.Warn("Chat turn failed", "error", err, "session_id", req.SessionID, "policy_id", req.PolicyID)
		RespondServiceError(c, "chat_failed", err)
		return
	}
	RespondOK(c, result)
}

// ListWebSources returns the persisted web hits a session's answers cited,
// newest first.
func (h *ChatHandler) ListWebSources(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "" {
		RespondError(c, http.StatusBadRequest, "session_id_required", errors.New("session id is required"))
		return
	}
	limit := intQuery(c, "limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	rows, err := h.sources.ListBySession(c.Request.Context(), sessionID, limit)
	if err != nil {
		h.log.Error("ListWebSources failed", "error", err, "session_id", sessionID)
		RespondError(c, http.StatusInternalServerError, "load_web_sources_failed", err)
		return
	}
	RespondOK(c, gin.H{"web_sources": rows})
}
