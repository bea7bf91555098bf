package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nuridam/policy-agent-backend/internal/agent"
	"github.com/nuridam/policy-agent-backend/internal/cache"
	"github.com/nuridam/policy-agent-backend/internal/domain"
	"github.com/nuridam/policy-agent-backend/internal/platform/apierr"
	"github.com/nuridam/policy-agent-backend/internal/platform/envutil"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/repos"
)

// ChatResult is one completed question-answering turn.
type ChatResult struct {
	SessionID string              `json:"session_id"`
	Answer    string              `json:"answer"`
	Variant   agent.AnswerVariant `json:"answer_variant"`
	Evidence  []agent.Evidence    `json:"evidence"`
}

type ChatService interface {
	// Chat runs one QA turn. Empty sessionID starts a new session for
	// policyID; a sessionID whose cache entry has expired is rejected.
	Chat(ctx context.Context, sessionID string, policyID int64, message string) (*ChatResult, error)
}

type chatService struct {
	log      *logger.Logger
	graph    *agent.Graph[agent.QAState]
	convs    cache.ConversationStore
	contexts cache.PolicyContextStore
	locks    *cache.SessionLocks
	policies repos.PolicyRepo
	sources  WebSourceService

	turnTimeout time.Duration
	now         func() time.Time
	loads       singleflight.Group
}

func NewChatService(
	baseLog *logger.Logger,
	graph *agent.Graph[agent.QAState],
	convs cache.ConversationStore,
	contexts cache.PolicyContextStore,
	locks *cache.SessionLocks,
	policyRepo repos.PolicyRepo,
	sources WebSourceService,
) ChatService {
	return &chatService{
		log:         baseLog.With("service", "ChatService"),
		graph:       graph,
		convs:       convs,
		contexts:    contexts,
		locks:       locks,
		policies:    policyRepo,
		sources:     sources,
		turnTimeout: envutil.Duration("CHAT_TURN_TIMEOUT", 60*time.Second),
		now:         time.Now,
	}
}

func (s *chatService) Chat(ctx context.Context, sessionID string, policyID int64, message string) (*ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apierr.New(http.StatusBadRequest, "message_required", errors.New("message is required"))
	}

	newSession := sessionID == ""
	if newSession {
		if policyID == 0 {
			return nil, apierr.New(http.StatusBadRequest, "policy_id_required", errors.New("policy_id is required for a new session"))
		}
		sessionID = uuid.NewString()
	}

	// One turn per session at a time; concurrent turns for the same session
	// queue here and each see the previous turn's commit.
	release := s.locks.Acquire(sessionID)
	defer release()

	history, found, err := s.convs.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	policyCtx, err := s.contexts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !newSession && !found && policyCtx == nil {
		return nil, apierr.New(http.StatusGone, "session_expired", fmt.Errorf("session %s expired or unknown", sessionID))
	}

	if policyCtx == nil {
		// Sessions starting on the same policy at the same time share one
		// repo read.
		v, err, _ := s.loads.Do(strconv.FormatInt(policyID, 10), func() (any, error) {
			return s.policies.GetByID(ctx, policyID)
		})
		if err != nil {
			return nil, err
		}
		policy, _ := v.(*domain.Policy)
		if policy == nil {
			return nil, apierr.New(http.StatusNotFound, "policy_not_found", fmt.Errorf("policy %d not found", policyID))
		}
		pc := buildPolicyContext(policy, s.now())
		policyCtx = &pc
	}

	state := &agent.QAState{
		SessionID: sessionID,
		PolicyID:  policyCtx.PolicyID,
		Message:   message,
		History:   history,
		Policy:    policyCtx,
	}

	runCtx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()
	if err := s.graph.Run(runCtx, state); err != nil {
		return nil, err
	}

	if err := s.commit(ctx, sessionID, state, *policyCtx); err != nil {
		return nil, err
	}

	s.log.Info("Chat turn completed",
		"session_id", sessionID,
		"policy_id", state.PolicyID,
		"query_type", string(state.QueryType),
		"answer_variant", string(state.Variant),
		"evidence_count", len(state.Evidence),
	)

	return &ChatResult{
		SessionID: sessionID,
		Answer:    state.Answer,
		Variant:   state.Variant,
		Evidence:  state.Evidence,
	}, nil
}

// commit writes the turn back to the caches and persists any web sources.
// Nothing here ran before the graph finished, so a failed turn leaves the
// session exactly as it was.
func (s *chatService) commit(ctx context.Context, sessionID string, state *agent.QAState, policyCtx cache.PolicyContext) error {
	now := s.now()
	if err := s.convs.Append(ctx, sessionID,
		cache.Turn{Role: cache.RoleUser, Content: state.Message, Timestamp: now},
		cache.Turn{Role: cache.RoleAssistant, Content: state.Answer, Timestamp: now},
	); err != nil {
		return err
	}

	if len(state.Documents) > 0 {
		docs := make([]cache.DocumentSnapshot, 0, len(state.Documents))
		for _, d := range state.Documents {
			docs = append(docs, cache.DocumentSnapshot{Content: d.Content, Score: d.Score})
		}
		policyCtx.Documents = docs
	}
	if err := s.contexts.Set(ctx, sessionID, policyCtx); err != nil {
		return err
	}

	if len(state.WebSources) > 0 && s.sources != nil {
		if err := s.sources.Save(ctx, sessionID, state.PolicyID, state.Message, state.WebSources); err != nil {
			// The turn already succeeded; losing the audit rows is not
			// worth failing it.
			s.log.Warn("Persisting web sources failed", "session_id", sessionID, "error", err.Error())
		}
	}
	return nil
}

func buildPolicyContext(p *domain.Policy, now time.Time) cache.PolicyContext {
	var b strings.Builder
	appendSection := func(label, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", label, truncateRunes(text, 400))
	}
	appendSection("개요", p.ProgramOverview)
	appendSection("지원 내용", p.SupportDescription)
	appendSection("신청 대상", p.ApplyTarget)
	appendSection("신청 방법", p.ApplicationMethod)

	return cache.PolicyContext{
		PolicyID:    p.ID,
		ProgramName: p.ProgramName,
		Summary:     b.String(),
		CreatedAt:   now,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
