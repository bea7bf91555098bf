package services

import (
	"context"

	"github.com/nuridam/policy-agent-backend/internal/cache"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

// SessionService resets session state across the caches. Reset is idempotent:
// clearing an unknown or already-cleared session succeeds.
type SessionService interface {
	Reset(ctx context.Context, sessionID string) error
}

type sessionService struct {
	log         *logger.Logger
	convs       cache.ConversationStore
	contexts    cache.PolicyContextStore
	eligibility EligibilityService
}

func NewSessionService(
	baseLog *logger.Logger,
	convs cache.ConversationStore,
	contexts cache.PolicyContextStore,
	eligibility EligibilityService,
) SessionService {
	return &sessionService{
		log:         baseLog.With("service", "SessionService"),
		convs:       convs,
		contexts:    contexts,
		eligibility: eligibility,
	}
}

func (s *sessionService) Reset(ctx context.Context, sessionID string) error {
	if err := s.convs.Clear(ctx, sessionID); err != nil {
		return err
	}
	if err := s.contexts.Clear(ctx, sessionID); err != nil {
		return err
	}
	if s.eligibility != nil {
		if err := s.eligibility.End(ctx, sessionID); err != nil {
			return err
		}
	}
	s.log.Info("Session reset", "session_id", sessionID)
	return nil
}
