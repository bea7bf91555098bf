package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/nuridam/policy-agent-backend/internal/domain"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

type WebSourceRepo interface {
	Create(ctx context.Context, rows []*domain.WebSource) ([]*domain.WebSource, error)
	ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.WebSource, error)
}

type webSourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWebSourceRepo(db *gorm.DB, baseLog *logger.Logger) WebSourceRepo {
	return &webSourceRepo{db: db, log: baseLog.With("repo", "WebSourceRepo")}
}

func (r *webSourceRepo) Create(ctx context.Context, rows []*domain.WebSource) ([]*domain.WebSource, error) {
	if len(rows) == 0 {
		return []*domain.WebSource{}, nil
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *webSourceRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.WebSource, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*domain.WebSource
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
