package cache

import (
	"context"
	"sync"
	"time"

	"github.com/nuridam/policy-agent-backend/internal/platform/logger"
)

type conversationEntry struct {
	turns     []Turn
	lastWrite time.Time
}

type policyContextEntry struct {
	pc        PolicyContext
	lastWrite time.Time
}

// MemoryStore is the in-process backend for both session caches. Expiry is
// lazy on read, with an optional background sweep for idle sessions.
type MemoryStore struct {
	log *logger.Logger
	ttl time.Duration
	cap int
	now func() time.Time

	mu       sync.Mutex
	convs    map[string]*conversationEntry
	contexts map[string]*policyContextEntry
}

func NewMemoryStore(log *logger.Logger, ttl time.Duration, maxMessages int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxMessages <= 0 {
		maxMessages = MaxMessages
	}
	return &MemoryStore{
		log:      log.With("component", "session_cache"),
		ttl:      ttl,
		cap:      maxMessages,
		now:      time.Now,
		convs:    make(map[string]*conversationEntry),
		contexts: make(map[string]*policyContextEntry),
	}
}

func (s *MemoryStore) expired(lastWrite time.Time) bool {
	return s.now().Sub(lastWrite) > s.ttl
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) ([]Turn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.convs[sessionID]
	if !ok {
		return nil, false, nil
	}
	if s.expired(e.lastWrite) {
		delete(s.convs, sessionID)
		return nil, false, nil
	}
	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out, true, nil
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.convs[sessionID]
	if !ok || s.expired(e.lastWrite) {
		e = &conversationEntry{}
		s.convs[sessionID] = e
	}
	e.turns = append(e.turns, turns...)
	if len(e.turns) > s.cap {
		e.turns = e.turns[len(e.turns)-s.cap:]
	}
	e.lastWrite = s.now()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, sessionID)
	return nil
}

// PolicyContexts exposes the same store through the PolicyContextStore
// interface so one MemoryStore can back both caches.
func (s *MemoryStore) PolicyContexts() PolicyContextStore {
	return (*memoryPolicyContexts)(s)
}

type memoryPolicyContexts MemoryStore

func (s *memoryPolicyContexts) Get(ctx context.Context, sessionID string) (*PolicyContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.contexts[sessionID]
	if !ok {
		return nil, nil
	}
	if (*MemoryStore)(s).expired(e.lastWrite) {
		delete(s.contexts, sessionID)
		return nil, nil
	}
	pc := e.pc
	return &pc, nil
}

func (s *memoryPolicyContexts) Set(ctx context.Context, sessionID string, pc PolicyContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[sessionID] = &policyContextEntry{pc: pc, lastWrite: (*MemoryStore)(s).now()}
	return nil
}

func (s *memoryPolicyContexts) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, sessionID)
	return nil
}

// StartSweeper evicts idle sessions periodically until ctx is done. Lazy
// expiry already guarantees correctness; this only bounds memory growth.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.convs {
		if s.expired(e.lastWrite) {
			delete(s.convs, id)
			removed++
		}
	}
	for id, e := range s.contexts {
		if s.expired(e.lastWrite) {
			delete(s.contexts, id)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("Swept expired sessions", "removed", removed)
	}
}
