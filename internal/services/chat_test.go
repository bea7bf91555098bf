package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/agent"
	"github.com/nuridam/policy-agent-backend/internal/cache"
	"github.com/nuridam/policy-agent-backend/internal/domain"
	"github.com/nuridam/policy-agent-backend/internal/platform/apierr"
	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
	"github.com/nuridam/policy-agent-backend/internal/repos"
)

type stubPolicyRepo struct {
	byID map[int64]*domain.Policy
}

func (f *stubPolicyRepo) GetByID(ctx context.Context, id int64) (*domain.Policy, error) {
	return f.byID[id], nil
}

func (f *stubPolicyRepo) GetByIDs(ctx context.Context, ids []int64) ([]*domain.Policy, error) {
	return nil, nil
}

func (f *stubPolicyRepo) Search(ctx context.Context, filter repos.PolicyFilter) ([]*domain.Policy, error) {
	return nil, nil
}

func (f *stubPolicyRepo) Count(ctx context.Context, filter repos.PolicyFilter) (int64, error) {
	return 0, nil
}

func (f *stubPolicyRepo) DistinctRegions(ctx context.Context) ([]string, error) { return nil, nil }

func (f *stubPolicyRepo) DistinctCategories(ctx context.Context) ([]string, error) {
	return nil, nil
}

type stubWebSources struct {
	mu    sync.Mutex
	saved int
}

func (f *stubWebSources) Save(ctx context.Context, sessionID string, policyID int64, query string, sources []agent.WebSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved += len(sources)
	return nil
}

func (f *stubWebSources) ListBySession(ctx context.Context, sessionID string, limit int) ([]*domain.WebSource, error) {
	return nil, nil
}

// answerGraph builds a single-node QA graph whose run function is supplied
// by the test.
func answerGraph(t *testing.T, run func(ctx context.Context, s *agent.QAState) error) *agent.Graph[agent.QAState] {
	t.Helper()
	g, err := agent.NewGraph("qa", "answer",
		[]agent.Node[agent.QAState]{{
			Name: "answer",
			Run: func(ctx context.Context, s *agent.QAState) (agent.Outcome, error) {
				if err := run(ctx, s); err != nil {
					return agent.OutcomeNext, err
				}
				return agent.OutcomeNext, nil
			},
		}},
		map[string]map[agent.Outcome]string{
			"answer": {agent.OutcomeNext: agent.End},
		})
	if err != nil {
		t.Fatalf("answerGraph: %v", err)
	}
	return g
}

type chatFixture struct {
	svc      ChatService
	store    *cache.MemoryStore
	contexts cache.PolicyContextStore
	sources  *stubWebSources
}

func newChatFixture(t *testing.T, graph *agent.Graph[agent.QAState]) *chatFixture {
	t.Helper()
	log := logger.NewNop()
	store := cache.NewMemoryStore(log, cache.DefaultTTL, cache.MaxMessages)
	contexts := store.PolicyContexts()
	repo := &stubPolicyRepo{byID: map[int64]*domain.Policy{
		1: {ID: 1, ProgramName: "청년 월세 지원", ProgramOverview: "월세를 지원합니다.", ApplyTarget: "만 19-34세"},
	}}
	sources := &stubWebSources{}
	svc := NewChatService(log, graph, store, contexts, cache.NewSessionLocks(), repo, sources)
	return &chatFixture{svc: svc, store: store, contexts: contexts, sources: sources}
}

func TestChatNewSessionCommitsTurn(t *testing.T) {
	graph := answerGraph(t, func(ctx context.Context, s *agent.QAState) error {
		s.Answer = "답변입니다."
		s.Documents = []agent.RetrievedDoc{{Content: "지원 대상", Score: 0.9}}
		return nil
	})
	f := newChatFixture(t, graph)

	res, err := f.svc.Chat(context.Background(), "", 1, "지원 대상이 누구인가요?")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.SessionID == "" || res.Answer != "답변입니다." {
		t.Fatalf("res = %+v", res)
	}

	turns, found, _ := f.store.Get(context.Background(), res.SessionID)
	if !found || len(turns) != 2 {
		t.Fatalf("turns = %d found=%v", len(turns), found)
	}
	if turns[0].Role != cache.RoleUser || turns[1].Role != cache.RoleAssistant {
		t.Fatalf("roles = %q, %q", turns[0].Role, turns[1].Role)
	}

	pc, _ := f.contexts.Get(context.Background(), res.SessionID)
	if pc == nil || pc.PolicyID != 1 || len(pc.Documents) != 1 {
		t.Fatalf("policy context = %+v", pc)
	}
}

func TestChatContinuationSeesHistory(t *testing.T) {
	var seen int
	graph := answerGraph(t, func(ctx context.Context, s *agent.QAState) error {
		seen = len(s.History)
		s.Answer = "ok"
		return nil
	})
	f := newChatFixture(t, graph)

	res, err := f.svc.Chat(context.Background(), "", 1, "첫 질문")
	if err != nil {
		t.Fatalf("Chat 1: %v", err)
	}
	if _, err := f.svc.Chat(context.Background(), res.SessionID, 0, "두 번째 질문"); err != nil {
		t.Fatalf("Chat 2: %v", err)
	}
	if seen != 2 {
		t.Fatalf("history seen by second turn = %d, want 2", seen)
	}
}

func TestChatExpiredSessionRejected(t *testing.T) {
	f := newChatFixture(t, answerGraph(t, func(ctx context.Context, s *agent.QAState) error {
		s.Answer = "ok"
		return nil
	}))

	_, err := f.svc.Chat(context.Background(), "no-such-session", 0, "질문")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusGone || ae.Code != "session_expired" {
		t.Fatalf("err = %v", err)
	}
}

func TestChatPolicyNotFound(t *testing.T) {
	f := newChatFixture(t, answerGraph(t, func(ctx context.Context, s *agent.QAState) error {
		return nil
	}))

	_, err := f.svc.Chat(context.Background(), "", 999, "질문")
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Status != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestChatFailedTurnLeavesNoTrace(t *testing.T) {
	fail := false
	graph := answerGraph(t, func(ctx context.Context, s *agent.QAState) error {
		if fail {
			return errors.New("llm down")
		}
		s.Answer = "ok"
		return nil
	})
	f := newChatFixture(t, graph)

	first, err := f.svc.Chat(context.Background(), "", 1, "시작")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	fail = true
	if _, err := f.svc.Chat(context.Background(), first.SessionID, 0, "실패할 질문"); err == nil {
		t.Fatal("expected error")
	}

	// The failed turn committed nothing.
	turns, _, _ := f.store.Get(context.Background(), first.SessionID)
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
}

func TestChatPersistsWebSources(t *testing.T) {
	graph := answerGraph(t, func(ctx context.Context, s *agent.QAState) error {
		s.Answer = "ok"
		s.WebSources = []agent.WebSource{
			{Ref: 1, URL: "https://a.go.kr", Title: "공고", FetchedDate: time.Now()},
		}
		return nil
	})
	f := newChatFixture(t, graph)

	if _, err := f.svc.Chat(context.Background(), "", 1, "신청 방법은?"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if f.sources.saved != 1 {
		t.Fatalf("web sources saved = %d, want 1", f.sources.saved)
	}
}

func TestChatSerializesTurnsPerSession(t *testing.T) {
	var active, maxActive int32
	graph := answerGraph(t, func(ctx context.Context, s *agent.QAState) error {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		s.Answer = "ok"
		return nil
	})
	f := newChatFixture(t, graph)

	first, err := f.svc.Chat(context.Background(), "", 1, "시작")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Chat(context.Background(), first.SessionID, 0, "동시 질문"); err != nil {
				t.Errorf("concurrent Chat: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxActive); got != 1 {
		t.Fatalf("max concurrent turns for one session = %d, want 1", got)
	}
	turns, _, _ := f.store.Get(context.Background(), first.SessionID)
	if len(turns) != 10 {
		t.Fatalf("turns = %d, want 10", len(turns))
	}
}
