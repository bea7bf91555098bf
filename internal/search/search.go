package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nuridam/policy-agent-backend/internal/domain"
	"github.com/nuridam/policy-agent-backend/internal/platform/envutil"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/platform/openai"
	"github.com/nuridam/policy-agent-backend/internal/platform/tavily"
	"github.com/nuridam/policy-agent-backend/internal/platform/vector"
	"github.com/nuridam/policy-agent-backend/internal/repos"
)

type SourceTier string

const (
	TierVector     SourceTier = "vector"
	TierRelational SourceTier = "relational"
	TierWeb        SourceTier = "web"
)

// WebHit carries the fields a web-tier candidate has instead of a policy row.
type WebHit struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Candidate is one search result. Policy is set for vector and relational
// tiers, Web for the web tier.
type Candidate struct {
	Policy *domain.Policy
	Web    *WebHit
	Score  float64
	Tier   SourceTier
}

type Query struct {
	Text     string
	Region   string
	Category string
	Limit    int
	Offset   int
}

// Service is the tiered policy search chain. Vector and web tiers degrade on
// failure instead of failing the request; only the relational tier is
// load-bearing.
type Service interface {
	Search(ctx context.Context, q Query) (page []Candidate, total int, err error)
	GetByID(ctx context.Context, id int64) (*domain.Policy, error)
	DistinctRegions(ctx context.Context) ([]string, error)
	DistinctCategories(ctx context.Context) ([]string, error)
}

type service struct {
	log      *logger.Logger
	policies repos.PolicyRepo
	vectors  vector.Store
	ai       openai.Client
	web      tavily.Client

	scoreThreshold float64
	minResults     int
	webMax         int
}

// New builds the search chain. vectors, ai and web may each be nil; the
// corresponding tier is then skipped.
func New(log *logger.Logger, policies repos.PolicyRepo, vectors vector.Store, ai openai.Client, web tavily.Client) Service {
	return &service{
		log:            log.With("service", "PolicySearch"),
		policies:       policies,
		vectors:        vectors,
		ai:             ai,
		web:            web,
		scoreThreshold: envutil.Float("SEARCH_SCORE_THRESHOLD", 0.7),
		minResults:     envutil.Int("SEARCH_MIN_RESULTS_FOR_WEB", 3),
		webMax:         envutil.Int("SEARCH_WEB_MAX_RESULTS", 3),
	}
}

func (s *service) Search(ctx context.Context, q Query) ([]Candidate, int, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Text = strings.TrimSpace(q.Text)

	if q.Text == "" {
		return s.searchRelational(ctx, q)
	}

	merged := s.searchVector(ctx, q)
	if merged == nil {
		// Vector tier unavailable; serve what the database can.
		return s.searchRelational(ctx, q)
	}

	if len(merged) < s.minResults {
		merged = append(merged, s.searchWeb(ctx, q)...)
	}

	sortCandidates(merged)

	total := len(merged)
	if q.Offset >= total {
		return []Candidate{}, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}
	return merged[q.Offset:end], total, nil
}

// searchRelational pages straight from the database in storage order.
func (s *service) searchRelational(ctx context.Context, q Query) ([]Candidate, int, error) {
	filter := repos.PolicyFilter{
		Region:   q.Region,
		Category: q.Category,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}

	var (
		rows  []*domain.Policy
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.policies.Search(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.policies.Count(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("policy search: %w", err)
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, Candidate{Policy: row, Tier: TierRelational})
	}
	return out, int(total), nil
}

// searchVector runs the embed + vector query + hydrate pipeline. A nil return
// means the tier failed and the caller should degrade; an empty non-nil slice
// means the tier ran and found nothing.
func (s *service) searchVector(ctx context.Context, q Query) []Candidate {
	if s.vectors == nil || s.ai == nil {
		return nil
	}

	vecs, err := s.ai.Embed(ctx, []string{q.Text})
	if err != nil || len(vecs) == 0 {
		s.log.Warn("Query embedding failed; degrading to relational search", "error", errString(err))
		return nil
	}

	filter := map[string]any{}
	if q.Region != "" {
		filter["region"] = q.Region
	}
	if q.Category != "" {
		filter["category"] = q.Category
	}

	// Overfetch so dedupe by policy id still fills the page.
	topK := (q.Offset + q.Limit) * 2
	if topK < 10 {
		topK = 10
	}

	matches, err := s.vectors.Query(ctx, vector.Query{
		Vector:         vecs[0],
		TopK:           topK,
		ScoreThreshold: s.scoreThreshold,
		Filter:         filter,
	})
	if err != nil {
		s.log.Warn("Vector search failed; degrading to relational search", "error", err.Error())
		return nil
	}

	// Several chunks can point at one policy; keep the best score per id.
	best := map[int64]float64{}
	order := []int64{}
	for _, m := range matches {
		id, ok := policyIDFromPayload(m.Payload["policy_id"])
		if !ok {
			continue
		}
		if prev, seen := best[id]; !seen || m.Score > prev {
			if !seen {
				order = append(order, id)
			}
			best[id] = m.Score
		}
	}
	if len(order) == 0 {
		return []Candidate{}
	}

	rows, err := s.policies.GetByIDs(ctx, order)
	if err != nil {
		s.log.Warn("Hydrating vector matches failed; degrading to relational search", "error", err.Error())
		return nil
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, Candidate{
			Policy: row,
			Score:  best[row.ID],
			Tier:   TierVector,
		})
	}
	return out
}

// policyIDFromPayload tolerates the numeric forms a decoded payload can
// carry.
func policyIDFromPayload(v any) (int64, bool) {
	switch id := v.(type) {
	case int64:
		return id, true
	case int:
		return int64(id), true
	case float64:
		return int64(id), true
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// searchWeb supplements thin result sets. Failures produce no candidates.
func (s *service) searchWeb(ctx context.Context, q Query) []Candidate {
	if s.web == nil {
		return nil
	}

	query := q.Text
	if q.Region != "" {
		query = q.Region + " " + query
	}

	hits, err := s.web.Search(ctx, query, s.webMax)
	if err != nil {
		s.log.Warn("Web search failed; serving primary tiers only", "error", err.Error())
		return nil
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		out = append(out, Candidate{
			Web:   &WebHit{URL: h.URL, Title: h.Title, Snippet: h.Snippet},
			Score: h.Score,
			Tier:  TierWeb,
		})
	}
	return out
}

func (s *service) GetByID(ctx context.Context, id int64) (*domain.Policy, error) {
	return s.policies.GetByID(ctx, id)
}

func (s *service) DistinctRegions(ctx context.Context) ([]string, error) {
	return s.policies.DistinctRegions(ctx)
}

func (s *service) DistinctCategories(ctx context.Context) ([]string, error) {
	return s.policies.DistinctCategories(ctx)
}

// sortCandidates orders by score desc, then collected_date desc, then
// policy id asc. Web candidates have no row; on full ties they sort after
// policies, by URL.
func sortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ad, bd := collectedDate(a), collectedDate(b)
		if !ad.Equal(bd) {
			return ad.After(bd)
		}
		switch {
		case a.Policy != nil && b.Policy != nil:
			return a.Policy.ID < b.Policy.ID
		case a.Policy != nil:
			return true
		case b.Policy != nil:
			return false
		default:
			return a.Web.URL < b.Web.URL
		}
	})
}

func collectedDate(c Candidate) time.Time {
	if c.Policy != nil && c.Policy.CollectedDate != nil {
		return *c.Policy.CollectedDate
	}
	return time.Time{}
}

func errString(err error) string {
	if err == nil {
		return "empty embedding response"
	}
	return err.Error()
}
