package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nuridam/policy-agent-backend/internal/domain"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/search"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type PolicyHandler struct {
	log    *logger.Logger
	search search.Service
}

func NewPolicyHandler(log *logger.Logger, searchService search.Service) *PolicyHandler {
	return &PolicyHandler{
		log:    log.With("handler", "PolicyHandler"),
		search: searchService,
	}
}

// searchItem is one row of a search page. Policy is set for the vector and
// relational tiers, Web for hits the web tier supplied.
type searchItem struct {
	Policy *domain.Policy    `json:"policy,omitempty"`
	Web    *search.WebHit    `json:"web,omitempty"`
	Score  float64           `json:"score"`
	Source search.SourceTier `json:"source"`
}

func (h *PolicyHandler) ListPolicies(c *gin.Context) {
	limit := intQuery(c, "limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	q := search.Query{
		Text:     strings.TrimSpace(c.Query("query")),
		Region:   strings.TrimSpace(c.Query("region")),
		Category: strings.TrimSpace(c.Query("category")),
		Limit:    limit,
		Offset:   offset,
	}

	page, total, err := h.search.Search(c.Request.Context(), q)
	if err != nil {
		h.log.Error("ListPolicies failed", "error", err, "query", q.Text)
		RespondError(c, http.StatusInternalServerError, "search_failed", err)
		return
	}

	items := make([]searchItem, 0, len(page))
	for _, cand := range page {
		items = append(items, searchItem{
			Policy: cand.Policy,
			Web:    cand.Web,
			Score:  cand.Score,
			Source: cand.Tier,
		})
	}
	RespondOK(c, gin.H{
		"policies": items,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		RespondError(c, http.StatusBadRequest, "invalid_policy_id", errors.New("policy id must be a positive integer"))
		return
	}
	policy, err := h.search.GetByID(c.Request.Context(), id)
	if err != nil {
		h.log.Error("GetPolicy failed", "error", err, "policy_id", id)
		RespondError(c, http.StatusInternalServerError, "load_policy_failed", err)
		return
	}
	if policy == nil {
		RespondError(c, http.StatusNotFound, "policy_not_found", errors.New("no policy with that id"))
		return
	}
	RespondOK(c, gin.H{"policy": policy})
}

func (h *PolicyHandler) ListRegions(c *gin.Context) {
	regions, err := h.search.DistinctRegions(c.Request.Context())
	if err != nil {
		h.log.Error("ListRegions failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "load_regions_failed", err)
		return
	}
	RespondOK(c, gin.H{"regions": regions})
}

func (h *PolicyHandler) ListCategories(c *gin.Context) {
	categories, err := h.search.DistinctCategories(c.Request.Context())
	if err != nil {
		h.log.Error("ListCategories failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "load_categories_failed", err)
		return
	}
	RespondOK(c, gin.H{"categories": categories})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
