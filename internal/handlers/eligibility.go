package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/services"
)

type EligibilityHandler struct {
	log         *logger.Logger
	eligibility services.EligibilityService
}

func NewEligibilityHandler(log *logger.Logger, eligibilityService services.EligibilityService) *EligibilityHandler {
	return &EligibilityHandler{
		log:         log.With("handler", "EligibilityHandler"),
		eligibility: eligibilityService,
	}
}

type eligibilityStartRequest struct {
	PolicyID int64 `json:"policy_id"`
}

type eligibilityAnswerRequest struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

func (h *EligibilityHandler) Start(c *gin.Context) {
	var req eligibilityStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.eligibility.Start(c.Request.Context(), req.PolicyID)
	if err != nil {
		h.log.Warn("Eligibility start failed", "error", err, "policy_id", req.PolicyID)
		RespondServiceError(c, "eligibility_start_failed", err)
		return
	}
	RespondOK(c, result)
}

func (h *EligibilityHandler) Answer(c *gin.Context) {
	var req eligibilityAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.eligibility.Answer(c.Request.Context(), req.SessionID, req.Answer)
	if err != nil {
		h.log.Warn("Eligibility answer failed", "error", err, "session_id", req.SessionID)
		RespondServiceError(c, "eligibility_answer_failed", err)
		return
	}
	RespondOK(c, result)
}
