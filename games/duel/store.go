package duel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// entry pairs a session with its lock. The lock is a one-slot channel so that
// waiting for it can honour a timeout and a context.
type entry struct {
	sem     chan struct{}
	session *Session
	removed bool // guarded by Store.mu
}

// Store is the in-memory registry of live sessions. Mutations of one session
// are serialized by a per-session lock; unrelated sessions never contend.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	// byPlayer indexes the one live session each player takes part in
	byPlayer    map[string]string
	lockTimeout time.Duration
	clock       quartz.Clock
	closed      bool
}

// NewStore creates an empty store. A non-positive lockTimeout waits on the context only.
func NewStore(clock quartz.Clock, lockTimeout time.Duration) *Store {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Store{
		sessions:    make(map[string]*entry),
		byPlayer:    make(map[string]string),
		lockTimeout: lockTimeout,
		clock:       clock,
	}
}

// Insert registers a new session and claims its creator.
func (st *Store) Insert(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return ErrClosed
	}
	if _, busy := st.byPlayer[s.CreatorID]; busy {
		return ErrPlayerBusy
	}
	if _, exists := st.sessions[s.ID]; exists {
		return fmt.Errorf("failed to insert session %s: duplicate id", s.ID)
	}
	st.sessions[s.ID] = &entry{sem: make(chan struct{}, 1), session: s}
	st.byPlayer[s.CreatorID] = s.ID
	return nil
}

// With runs fn while holding the session's lock. A session left in a terminal
// state by fn is removed before the lock is released, so a caller queued
// behind it observes ErrSessionNotFound.
func (st *Store) With(ctx context.Context, id string, fn func(*Session) error) error {
	e, err := st.lookup(id)
	if err != nil {
		return err
	}
	if err := st.acquire(ctx, e); err != nil {
		return err
	}
	defer func() { <-e.sem }()

	st.mu.Lock()
	gone := e.removed || st.closed
	st.mu.Unlock()
	if gone {
		return ErrSessionNotFound
	}

	err = fn(e.session)
	if e.session.State.Terminal() {
		st.remove(e)
	}
	return err
}

// Claim records playerID as taking part in session id. It must be called
// while the session lock is held.
func (st *Store) Claim(playerID, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if current, busy := st.byPlayer[playerID]; busy && current != id {
		return ErrPlayerBusy
	}
	st.byPlayer[playerID] = id
	return nil
}

// ActiveSession returns the live session playerID takes part in.
func (st *Store) ActiveSession(playerID string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	id, ok := st.byPlayer[playerID]
	return id, ok
}

// Sweep cancels and removes sessions idle for longer than maxAge. Sessions
// locked by an in-flight mutation are skipped and picked up on a later pass.
func (st *Store) Sweep(now time.Time, maxAge time.Duration) []Snapshot {
	st.mu.Lock()
	candidates := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		candidates = append(candidates, e)
	}
	st.mu.Unlock()

	var expired []Snapshot
	for _, e := range candidates {
		select {
		case e.sem <- struct{}{}:
		default:
			continue
		}

		st.mu.Lock()
		gone := e.removed
		st.mu.Unlock()

		s := e.session
		if !gone && !s.State.Terminal() && now.Sub(s.UpdatedAt) > maxAge {
			snap := s.snapshot()
			s.transition(StateCancelled, now)
			st.remove(e)
			expired = append(expired, snap)
		}
		<-e.sem
	}
	return expired
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Close drops every session. Later calls fail with ErrClosed.
func (st *Store) Close() {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, e := range st.sessions {
		e.removed = true
	}
	st.sessions = make(map[string]*entry)
	st.byPlayer = make(map[string]string)
	st.closed = true
}

func (st *Store) lookup(id string) (*entry, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return nil, ErrClosed
	}
	e, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (st *Store) acquire(ctx context.Context, e *entry) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if st.lockTimeout > 0 {
		timer := st.clock.NewTimer(st.lockTimeout, "store", "lock")
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case e.sem <- struct{}{}:
		return nil
	case <-timeout:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (st *Store) remove(e *entry) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if e.removed {
		return
	}
	e.removed = true
	s := e.session
	delete(st.sessions, s.ID)
	for _, playerID := range []string{s.CreatorID, s.JoinerID} {
		if playerID != "" && st.byPlayer[playerID] == s.ID {
			delete(st.byPlayer, playerID)
		}
	}
}
