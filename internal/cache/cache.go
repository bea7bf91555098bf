package cache

import (
	"context"
	"time"
)

const (
	// Sessions expire after this much time without a write.
	DefaultTTL = 24 * time.Hour

	// Conversation entries keep at most this many messages (25 exchanges).
	MaxMessages = 50
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is a single conversation message.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentSnapshot is a retrieved document chunk frozen into the session.
type DocumentSnapshot struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// PolicyContext is the per-session snapshot of the policy being discussed.
// Set replaces the whole entry; there is at most one per session.
type PolicyContext struct {
	PolicyID    int64              `json:"policy_id"`
	ProgramName string             `json:"program_name"`
	Summary     string             `json:"summary"`
	Documents   []DocumentSnapshot `json:"documents,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ConversationStore holds per-session conversation history. Absent sessions
// are not errors: Get reports found=false, Clear on a missing session is a
// no-op. Every write resets the idle TTL.
type ConversationStore interface {
	Get(ctx context.Context, sessionID string) (turns []Turn, found bool, err error)
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Clear(ctx context.Context, sessionID string) error
}

// PolicyContextStore holds the per-session policy snapshot. Get returns nil
// when the session is absent or expired.
type PolicyContextStore interface {
	Get(ctx context.Context, sessionID string) (*PolicyContext, error)
	Set(ctx context.Context, sessionID string, pc PolicyContext) error
	Clear(ctx context.Context, sessionID string) error
}
