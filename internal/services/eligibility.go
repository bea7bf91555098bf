package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nuridam/policy-agent-backend/internal/agent"
	"github.com/nuridam/policy-agent-backend/internal/cache"
	"github.com/nuridam/policy-agent-backend/internal/platform/apierr"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/repos"
)

// Progress is the interview position: how many conditions have been worked
// through out of how many were parsed.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// EligibilityResult is the interview state surfaced after Start or Answer.
// Question is set while the interview is still asking; Decision and Reason
// once it is completed.
type EligibilityResult struct {
	SessionID  string            `json:"session_id"`
	Question   string            `json:"question,omitempty"`
	Completed  bool              `json:"completed"`
	Progress   Progress          `json:"progress"`
	Decision   agent.Decision    `json:"decision,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Conditions []agent.Condition `json:"conditions"`
}

type EligibilityService interface {
	Start(ctx context.Context, policyID int64) (*EligibilityResult, error)
	Answer(ctx context.Context, sessionID string, answer string) (*EligibilityResult, error)
	// End drops the interview state for a session.
	End(ctx context.Context, sessionID string) error
}

type eligibilityService struct {
	log      *logger.Logger
	start    *agent.Graph[agent.EligibilityState]
	answer   *agent.Graph[agent.EligibilityState]
	policies repos.PolicyRepo
	locks    *cache.SessionLocks

	mu     sync.Mutex
	states map[string]*eligibilityEntry
	ttl    time.Duration
	now    func() time.Time
}

type eligibilityEntry struct {
	state     agent.EligibilityState
	lastWrite time.Time
}

func NewEligibilityService(
	baseLog *logger.Logger,
	startGraph *agent.Graph[agent.EligibilityState],
	answerGraph *agent.Graph[agent.EligibilityState],
	policyRepo repos.PolicyRepo,
	locks *cache.SessionLocks,
) EligibilityService {
	return &eligibilityService{
		log:      baseLog.With("service", "EligibilityService"),
		start:    startGraph,
		answer:   answerGraph,
		policies: policyRepo,
		locks:    locks,
		states:   make(map[string]*eligibilityEntry),
		ttl:      cache.DefaultTTL,
		now:      time.Now,
	}
}

func (s *eligibilityService) Start(ctx context.Context, policyID int64) (*EligibilityResult, error) {
	if policyID == 0 {
		return nil, apierr.New(http.StatusBadRequest, "policy_id_required", errors.New("policy_id is required"))
	}

	policy, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, apierr.New(http.StatusNotFound, "policy_not_found", fmt.Errorf("policy %d not found", policyID))
	}

	state := agent.EligibilityState{
		SessionID:   uuid.NewString(),
		PolicyID:    policy.ID,
		ProgramName: policy.ProgramName,
		ApplyTarget: policy.ApplyTarget,
		Phase:       agent.PhaseNotStarted,
	}

	if err := s.start.Run(ctx, &state); err != nil {
		if errors.Is(err, agent.ErrNoConditions) {
			return nil, apierr.New(http.StatusUnprocessableEntity, "no_conditions", err)
		}
		return nil, err
	}

	s.save(state)
	s.log.Info("Eligibility interview started",
		"session_id", state.SessionID,
		"policy_id", state.PolicyID,
		"conditions_count", len(state.Conditions),
	)
	return resultOf(state), nil
}

func (s *eligibilityService) Answer(ctx context.Context, sessionID string, answer string) (*EligibilityResult, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, apierr.New(http.StatusBadRequest, "answer_required", errors.New("answer is required"))
	}

	release := s.locks.Acquire(sessionID)
	defer release()

	state, ok := s.load(sessionID)
	if !ok {
		return nil, apierr.New(http.StatusGone, "session_expired", fmt.Errorf("eligibility session %s expired or unknown", sessionID))
	}
	if state.Phase == agent.PhaseDecided {
		return nil, apierr.New(http.StatusConflict, "session_decided", agent.ErrSessionDecided)
	}

	state.UserAnswer = answer
	if err := s.answer.Run(ctx, &state); err != nil {
		if errors.Is(err, agent.ErrSessionDecided) {
			return nil, apierr.New(http.StatusConflict, "session_decided", err)
		}
		return nil, err
	}

	s.save(state)
	return resultOf(state), nil
}

func (s *eligibilityService) End(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	return nil
}

func (s *eligibilityService) load(sessionID string) (agent.EligibilityState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[sessionID]
	if !ok {
		return agent.EligibilityState{}, false
	}
	if s.now().Sub(e.lastWrite) > s.ttl {
		delete(s.states, sessionID)
		return agent.EligibilityState{}, false
	}

	// The answer graph mutates conditions and slots in place. Hand it copies
	// so a run that fails before save leaves the stored state untouched.
	state := e.state
	state.Conditions = append([]agent.Condition(nil), e.state.Conditions...)
	if e.state.Slots != nil {
		state.Slots = make(map[string]string, len(e.state.Slots))
		for k, v := range e.state.Slots {
			state.Slots[k] = v
		}
	}
	return state, true
}

func (s *eligibilityService) save(state agent.EligibilityState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SessionID] = &eligibilityEntry{state: state, lastWrite: s.now()}
}

func resultOf(state agent.EligibilityState) *EligibilityResult {
	return &EligibilityResult{
		SessionID: state.SessionID,
		Question:  state.CurrentQuestion,
		Completed: state.Phase == agent.PhaseDecided,
		Progress: Progress{
			Current: state.Cursor,
			Total:   len(state.Conditions),
		},
		Decision:   state.Decision,
		Reason:     state.Reason,
		Conditions: state.Conditions,
	}
}
