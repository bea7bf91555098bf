package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/nuridam/policy-agent-backend/internal/agent"
	"github.com/nuridam/policy-agent-backend/internal/cache"
	"github.com/nuridam/policy-agent-backend/internal/domain"
	"github.com/nuridam/policy-agent-backend/internal/platform/apierr"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

type scriptedAI struct {
	jsonOuts []map[string]any
	calls    int

	// interrupt, when set, fires after a JSON output is produced. Lets a
	// test cancel the request context mid-run.
	interrupt func()
}

func (f *scriptedAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (f *scriptedAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return "어느 지역에 거주하시나요?", nil
}

func (f *scriptedAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if f.calls >= len(f.jsonOuts) {
		return nil, errors.New("no scripted output left")
	}
	out := f.jsonOuts[f.calls]
	f.calls++
	if f.interrupt != nil {
		f.interrupt()
	}
	return out, nil
}

func newEligibilityFixture(t *testing.T, ai *scriptedAI) EligibilityService {
	t.Helper()
	log := logger.NewNop()
	cfg := agent.EligibilityConfigFromEnv()
	startGraph, err := agent.NewEligibilityStartGraph(log, ai, cfg)
	if err != nil {
		t.Fatalf("start graph: %v", err)
	}
	answerGraph, err := agent.NewEligibilityAnswerGraph(log, ai, cfg)
	if err != nil {
		t.Fatalf("answer graph: %v", err)
	}
	repo := &stubPolicyRepo{byID: map[int64]*domain.Policy{
		1: {ID: 1, ProgramName: "청년 창업 지원", ApplyTarget: "서울 거주 창업 3년 이내"},
		2: {ID: 2, ProgramName: "빈 정책"},
	}}
	return NewEligibilityService(log, startGraph, answerGraph, repo, cache.NewSessionLocks())
}

func TestEligibilityInterviewFlow(t *testing.T) {
	ai := &scriptedAI{jsonOuts: []map[string]any{
		{"conditions": []any{
			map[string]any{"name": "지역", "description": "서울 거주", "type": "region", "value": "서울"},
			map[string]any{"name": "업력", "description": "창업 3년 이내", "type": "business_status", "value": "3년 이내"},
		}},
		{"verdict": "PASS", "reason": "서울 거주"},
		{"verdict": "PASS", "reason": "창업 2년차"},
	}}
	svc := newEligibilityFixture(t, ai)
	ctx := context.Background()

	res, err := svc.Start(ctx, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.SessionID == "" || res.Completed || res.Question == "" {
		t.Fatalf("start res = %+v", res)
	}
	if len(res.Conditions) != 2 {
		t.Fatalf("conditions = %d", len(res.Conditions))
	}
	if res.Progress.Current != 0 || res.Progress.Total != 2 {
		t.Fatalf("start progress = %+v", res.Progress)
	}

	res, err = svc.Answer(ctx, res.SessionID, "서울에 삽니다")
	if err != nil {
		t.Fatalf("Answer 1: %v", err)
	}
	if res.Completed {
		t.Fatal("decided too early")
	}
	if res.Progress.Current != 1 || res.Progress.Total != 2 {
		t.Fatalf("mid progress = %+v", res.Progress)
	}

	res, err = svc.Answer(ctx, res.SessionID, "창업 2년차입니다")
	if err != nil {
		t.Fatalf("Answer 2: %v", err)
	}
	if !res.Completed || res.Decision != agent.DecisionEligible {
		t.Fatalf("final res = %+v", res)
	}

	// Decided sessions reject further answers.
	_, err = svc.Answer(ctx, res.SessionID, "또 답변")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusConflict || ae.Code != "session_decided" {
		t.Fatalf("err = %v", err)
	}
}

func TestEligibilityStartPolicyNotFound(t *testing.T) {
	svc := newEligibilityFixture(t, &scriptedAI{})

	_, err := svc.Start(context.Background(), 999)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestEligibilityStartNoConditions(t *testing.T) {
	svc := newEligibilityFixture(t, &scriptedAI{})

	_, err := svc.Start(context.Background(), 2)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Code != "no_conditions" {
		t.Fatalf("err = %v", err)
	}
}

func TestEligibilityUnknownSessionRejected(t *testing.T) {
	svc := newEligibilityFixture(t, &scriptedAI{})

	_, err := svc.Answer(context.Background(), "ghost", "답변")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusGone || ae.Code != "session_expired" {
		t.Fatalf("err = %v", err)
	}
}

func TestEligibilityEndClearsSession(t *testing.T) {
	ai := &scriptedAI{jsonOuts: []map[string]any{
		{"conditions": []any{
			map[string]any{"name": "지역", "description": "서울 거주", "type": "region", "value": "서울"},
		}},
	}}
	svc := newEligibilityFixture(t, ai)
	ctx := context.Background()

	res, err := svc.Start(ctx, 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.End(ctx, res.SessionID); err != nil {
		t.Fatalf("End: %v", err)
	}

	_, err = svc.Answer(ctx, res.SessionID, "서울이요")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Code != "session_expired" {
		t.Fatalf("err = %v", err)
	}
}

func TestEligibilityFailedTurnLeavesStateCommitted(t *testing.T) {
	ai := &scriptedAI{jsonOuts: []map[string]any{
		{"conditions": []any{
			map[string]any{"name": "업력", "description": "창업 3년 이내", "type": "business_status", "value": "3년 이내"},
		}},
		{"verdict": "FAIL", "reason": "창업 5년차"},
		{"verdict": "PASS", "reason": "창업 2년차"},
	}}
	svc := newEligibilityFixture(t, ai)

	res, err := svc.Start(context.Background(), 1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Cancel the request from inside the verdict call, after the node has
	// judged the condition but before the walk can continue.
	ctx, cancel := context.WithCancel(context.Background())
	ai.interrupt = cancel
	if _, err := svc.Answer(ctx, res.SessionID, "창업 5년차입니다"); !errors.Is(err, context.Canceled) {
		t.Fatalf("want canceled turn, got err = %v", err)
	}
	ai.interrupt = nil

	stored, ok := svc.(*eligibilityService).load(res.SessionID)
	if !ok {
		t.Fatal("session missing after failed turn")
	}
	if got := stored.Conditions[0].Verdict; got != agent.VerdictUnknown {
		t.Fatalf("stored verdict after failed turn: want=%s got=%s", agent.VerdictUnknown, got)
	}
	if stored.Conditions[0].Reason != "" || stored.Cursor != 0 {
		t.Fatalf("stored state mutated by failed turn: %+v", stored)
	}

	// A retried answer starts from the last committed state.
	res, err = svc.Answer(context.Background(), res.SessionID, "창업 2년차입니다")
	if err != nil {
		t.Fatalf("retried Answer: %v", err)
	}
	if !res.Completed || res.Decision != agent.DecisionEligible {
		t.Fatalf("retried res = %+v", res)
	}
}
