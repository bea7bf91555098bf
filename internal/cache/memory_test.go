package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

func newTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStore(logger.NewNop(), DefaultTTL, MaxMessages)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestConversationRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, found, err := s.Get(ctx, "s1"); err != nil || found {
		t.Fatalf("Get on empty store = found=%v err=%v", found, err)
	}

	turns := []Turn{
		{Role: RoleUser, Content: "이 정책 신청 대상이 어떻게 되나요?"},
		{Role: RoleAssistant, Content: "만 19세에서 34세 청년이 대상입니다."},
	}
	if err := s.Append(ctx, "s1", turns...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, found, err := s.Get(ctx, "s1")
	if err != nil || !found {
		t.Fatalf("Get = found=%v err=%v", found, err)
	}
	if len(got) != 2 || got[0].Content != turns[0].Content {
		t.Fatalf("got = %+v", got)
	}
}

func TestConversationCapEvictsOldest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < MaxMessages+4; i++ {
		if err := s.Append(ctx, "s1", Turn{Role: RoleUser, Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, _, _ := s.Get(ctx, "s1")
	if len(got) != MaxMessages {
		t.Fatalf("len = %d, want %d", len(got), MaxMessages)
	}
	if got[0].Content != "m4" {
		t.Fatalf("oldest kept = %q, want m4", got[0].Content)
	}
	if got[len(got)-1].Content != fmt.Sprintf("m%d", MaxMessages+3) {
		t.Fatalf("newest = %q", got[len(got)-1].Content)
	}
}

func TestIdleExpiry(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "s1", Turn{Role: RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.PolicyContexts().Set(ctx, "s1", PolicyContext{PolicyID: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// A write inside the window refreshes the TTL.
	*now = now.Add(23 * time.Hour)
	if err := s.Append(ctx, "s1", Turn{Role: RoleUser, Content: "still here"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	*now = now.Add(23 * time.Hour)
	if _, found, _ := s.Get(ctx, "s1"); !found {
		t.Fatal("session expired despite refresh")
	}

	*now = now.Add(25 * time.Hour)
	if _, found, _ := s.Get(ctx, "s1"); found {
		t.Fatal("expected conversation expiry after idle TTL")
	}
	pc, err := s.PolicyContexts().Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get context: %v", err)
	}
	if pc != nil {
		t.Fatal("expected policy context expiry after idle TTL")
	}
}

func TestClearIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_ = s.Append(ctx, "s1", Turn{Role: RoleUser, Content: "x"})
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear again: %v", err)
	}
	if _, found, _ := s.Get(ctx, "s1"); found {
		t.Fatal("cleared session still present")
	}
}

func TestPolicyContextSetReplaces(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	pcs := s.PolicyContexts()

	_ = pcs.Set(ctx, "s1", PolicyContext{PolicyID: 1, Documents: []DocumentSnapshot{{Content: "old"}}})
	_ = pcs.Set(ctx, "s1", PolicyContext{PolicyID: 2})

	pc, _ := pcs.Get(ctx, "s1")
	if pc == nil || pc.PolicyID != 2 || len(pc.Documents) != 0 {
		t.Fatalf("pc = %+v", pc)
	}
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	s, now := newTestStore(t)
	ctx := context.Background()

	_ = s.Append(ctx, "old", Turn{Role: RoleUser, Content: "x"})
	*now = now.Add(25 * time.Hour)
	_ = s.Append(ctx, "fresh", Turn{Role: RoleUser, Content: "y"})

	s.sweep()

	s.mu.Lock()
	_, oldAlive := s.convs["old"]
	_, freshAlive := s.convs["fresh"]
	s.mu.Unlock()
	if oldAlive || !freshAlive {
		t.Fatalf("sweep kept old=%v fresh=%v", oldAlive, freshAlive)
	}
}

func TestSessionLocksSerializeSameSession(t *testing.T) {
	locks := NewSessionLocks()

	var order []int
	var mu sync.Mutex
	record := func(v int) {
		mu.Lock()
		order = append(order, v)
		mu.Unlock()
	}

	release := locks.Acquire("s1")
	done := make(chan struct{})
	go func() {
		r := locks.Acquire("s1")
		record(2)
		r()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	record(1)
	release()
	<-done

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v", order)
	}

	// Other sessions are not blocked.
	r1 := locks.Acquire("a")
	r2 := locks.Acquire("b")
	r1()
	r2()

	locks.mu.Lock()
	remaining := len(locks.locks)
	locks.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("lock entries leaked: %d", remaining)
	}
}
