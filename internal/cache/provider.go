package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/platform/envutil"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

// NewStores builds the conversation and policy-context stores for the
// provider selected by SESSION_CACHE_PROVIDER ("memory" or "redis"). The
// memory provider runs a background sweeper until ctx is done; redis relies
// on key TTLs instead.
func NewStores(ctx context.Context, log *logger.Logger) (ConversationStore, PolicyContextStore, error) {
	ttl := envutil.Duration("SESSION_TTL", DefaultTTL)
	maxMessages := envutil.Int("SESSION_MAX_MESSAGES", MaxMessages)

	provider := strings.ToLower(strings.TrimSpace(envutil.String("SESSION_CACHE_PROVIDER", "memory")))
	switch provider {
	case "memory", "":
		s := NewMemoryStore(log, ttl, maxMessages)
		s.StartSweeper(ctx, envutil.Duration("SESSION_SWEEP_INTERVAL", time.Hour))
		return s, s.PolicyContexts(), nil
	case "redis":
		s, err := NewRedisStore(log, ttl, maxMessages)
		if err != nil {
			return nil, nil, err
		}
		return s, s.PolicyContexts(), nil
	default:
		return nil, nil, fmt.Errorf("unknown SESSION_CACHE_PROVIDER %q", provider)
	}
}
