package cache

import "sync"

// SessionLocks serializes agent invocations per session id. Different
// sessions proceed concurrently; a second invocation for the same session
// blocks until the first finishes its commit.
type SessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{locks: make(map[string]*sessionLock)}
}

// Acquire blocks until the session lock is held and returns the release
// function. Lock entries are dropped once nobody holds or waits on them.
func (s *SessionLocks) Acquire(sessionID string) (release func()) {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}
