package repos

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/nuridam/policy-agent-backend/internal/domain"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

// PolicyFilter is the relational-tier filter. Empty fields are ignored.
type PolicyFilter struct {
	Region   string
	Category string
	Limit    int
	Offset   int
}

type PolicyRepo interface {
	GetByID(ctx context.Context, id int64) (*domain.Policy, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*domain.Policy, error)
	// Search lists policies matching the filter in stable recency order
	// (collected_date desc, id asc).
	Search(ctx context.Context, f PolicyFilter) ([]*domain.Policy, error)
	Count(ctx context.Context, f PolicyFilter) (int64, error)
	DistinctRegions(ctx context.Context) ([]string, error)
	DistinctCategories(ctx context.Context) ([]string, error)
}

type policyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPolicyRepo(db *gorm.DB, baseLog *logger.Logger) PolicyRepo {
	return &policyRepo{db: db, log: baseLog.With("repo", "PolicyRepo")}
}

func (r *policyRepo) GetByID(ctx context.Context, id int64) (*domain.Policy, error) {
	var out domain.Policy
	err := r.db.WithContext(ctx).First(&out, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (r *policyRepo) GetByIDs(ctx context.Context, ids []int64) ([]*domain.Policy, error) {
	if len(ids) == 0 {
		return []*domain.Policy{}, nil
	}
	var out []*domain.Policy
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *policyRepo) Search(ctx context.Context, f PolicyFilter) ([]*domain.Policy, error) {
	q := r.filtered(ctx, f).Order("collected_date DESC NULLS LAST").Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []*domain.Policy
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *policyRepo) Count(ctx context.Context, f PolicyFilter) (int64, error) {
	var n int64
	if err := r.filtered(ctx, f).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *policyRepo) filtered(ctx context.Context, f PolicyFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&domain.Policy{})
	if region := strings.TrimSpace(f.Region); region != "" {
		q = q.Where("region = ?", region)
	}
	if category := strings.TrimSpace(f.Category); category != "" {
		q = q.Where("category = ?", category)
	}
	return q
}

func (r *policyRepo) DistinctRegions(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).
		Model(&domain.Policy{}).
		Distinct("region").
		Where("region IS NOT NULL AND region <> ''").
		Order("region ASC").
		Pluck("region", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *policyRepo) DistinctCategories(ctx context.Context) ([]string, error) {
	var out []string
	err := r.db.WithContext(ctx).
		Model(&domain.Policy{}).
		Distinct("category").
		Where("category IS NOT NULL AND category <> ''").
		Order("category ASC").
		Pluck("category", &out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
