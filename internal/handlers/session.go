package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/services"
)

type SessionHandler struct {
	log      *logger.Logger
	sessions services.SessionService
}

func NewSessionHandler(log *logger.Logger, sessionService services.SessionService) *SessionHandler {
	return &SessionHandler{
		log:      log.With("handler", "SessionHandler"),
		sessions: sessionService,
	}
}

type sessionResetRequest struct {
	SessionID string `json:"session_id"`
}

func (h *SessionHandler) Reset(c *gin.Context) {
	var req sessionResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.SessionID == "" {
		RespondError(c, http.StatusBadRequest, "session_id_required", errors.New("session id is required"))
		return
	}
	if err := h.sessions.Reset(c.Request.Context(), req.SessionID); err != nil {
		h.log.Error("Session reset failed", "error", err, "session_id", req.SessionID)
		RespondError(c, http.StatusInternalServerError, "session_reset_failed", err)
		return
	}
	RespondOK(c, gin.H{"reset": true})
}
