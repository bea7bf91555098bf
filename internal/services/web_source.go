package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/nuridam/policy-agent-backend/internal/agent"
	"github.com/nuridam/policy-agent-backend/internal/domain"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/repos"
)

// WebSourceService persists the web hits an answer cited so they can be
// audited after the session cache is gone.
type WebSourceService interface {
	Save(ctx context.Context, sessionID string, policyID int64, query string, sources []agent.WebSource) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.WebSource, error)
}

type webSourceService struct {
	log  *logger.Logger
	repo repos.WebSourceRepo
}

func NewWebSourceService(baseLog *logger.Logger, repo repos.WebSourceRepo) WebSourceService {
	return &webSourceService{
		log:  baseLog.With("service", "WebSourceService"),
		repo: repo,
	}
}

func (s *webSourceService) Save(ctx context.Context, sessionID string, policyID int64, query string, sources []agent.WebSource) error {
	if len(sources) == 0 {
		return nil
	}

	rows := make([]*domain.WebSource, 0, len(sources))
	for _, src := range sources {
		rows = append(rows, &domain.WebSource{
			ID:          uuid.New(),
			SessionID:   sessionID,
			PolicyID:    policyID,
			Query:       query,
			URL:         src.URL,
			Title:       src.Title,
			Snippet:     src.Snippet,
			Score:       src.Score,
			FetchedDate: src.FetchedDate.Format("2006-01-02"),
			SourceType:  "tavily",
		})
	}
	if _, err := s.repo.Create(ctx, rows); err != nil {
		return err
	}

	s.log.Info("Web sources saved", "session_id", sessionID, "count", len(rows))
	return nil
}

func (s *webSourceService) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.WebSource, error) {
	return s.repo.ListBySession(ctx, sessionID, limit)
}
