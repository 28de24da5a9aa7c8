// Package autosave coalesces rapid session mutations into deferred writes.
//
// Every field edit produces a PATCH, but persisting each keystroke-sized
// change individually would hammer the store. The Saver holds the latest
// snapshot per session and flushes it once the session has been quiet for
// the configured delay. Each Schedule bumps a per-session generation; a
// flush whose generation no longer matches is stale and discarded.
//
// The generation check only covers timers superseded before their write
// starts. For writes already in flight, every store write routed through
// the Saver claims a per-session sequence number at dequeue time and runs
// under a per-session write lock; a write whose sequence is at or below the
// last one that reached the store is dropped. Direct writes (Write) claim
// the newest sequence, so a stale in-flight autosave can never land on top
// of state persisted after it.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"examtrack/internal/registration/models"
	"examtrack/internal/registration/store"
	id "examtrack/pkg/domain"
)

const defaultDelay = 1 * time.Second

const flushTimeout = 5 * time.Second

type entry struct {
	timer    *time.Timer
	gen      uint64
	snapshot *models.Session
}

// sessionState outlives pending entries: it orders every store write for
// one session, including writes still in flight after their entry was
// dequeued. Pruned once no writer holds it and nothing is pending.
type sessionState struct {
	// mu serializes store writes for this session.
	mu sync.Mutex
	// written is the highest sequence that reached the store.
	written uint64
	// seq hands out write sequence numbers; guarded by Saver.mu.
	seq uint64
	// refs counts writers between dequeue and completion; guarded by Saver.mu.
	refs int
}

// Observer is notified after every flush attempt.
type Observer func(sessionID id.SessionID, err error)

// Saver debounces session writes. Safe for concurrent use.
type Saver struct {
	store    store.SessionStore
	delay    time.Duration
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	pending map[id.SessionID]*entry
	states  map[id.SessionID]*sessionState
	closed  bool
}

type Option func(*Saver)

func WithDelay(d time.Duration) Option {
	return func(s *Saver) {
		if d > 0 {
			s.delay = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Saver) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Saver) { s.observer = observer }
}

func New(sessions store.SessionStore, opts ...Option) *Saver {
	s := &Saver{
		store:   sessions,
		delay:   defaultDelay,
		logger:  slog.Default(),
		pending: make(map[id.SessionID]*entry),
		states:  make(map[id.SessionID]*sessionState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule records the session's current state and arms (or re-arms) the
// flush timer. The snapshot is cloned, so callers may keep mutating the
// session afterwards.
func (s *Saver) Schedule(session *models.Session) {
	if session == nil {
		return
	}
	snapshot := session.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	e, ok := s.pending[session.ID]
	if !ok {
		e = &entry{}
		s.pending[session.ID] = e
	}
	e.gen++
	e.snapshot = snapshot

	gen := e.gen
	sessionID := session.ID
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(s.delay, func() {
		s.flush(sessionID, gen)
	})
}

// Peek returns a clone of the session's unflushed snapshot, or nil when
// nothing is pending. Mutations stack on the pending snapshot rather than
// the stale stored row.
func (s *Saver) Peek(sessionID id.SessionID) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[sessionID]
	if !ok {
		return nil
	}
	return e.snapshot.Clone()
}

// Pending reports whether the session has an unflushed snapshot. Drives the
// "saving…" indicator on session reads.
func (s *Saver) Pending(sessionID id.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[sessionID]
	return ok
}

// Flush writes the session's pending snapshot immediately, if any. With
// nothing pending it still waits out any in-flight timer write, so callers
// reading the store afterwards never race a flush that already dequeued.
// Used before step transitions so validation always sees persisted state.
func (s *Saver) Flush(ctx context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	var snapshot *models.Session
	if e, ok := s.pending[sessionID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		snapshot = e.snapshot
		delete(s.pending, sessionID)
	}
	st, seq := s.claimLocked(sessionID)
	s.mu.Unlock()

	return s.write(ctx, sessionID, st, seq, snapshot)
}

// Write persists the session immediately, ordered against this session's
// in-flight flushes. The write claims the newest sequence, so an autosave
// dequeued earlier but still in flight is dropped rather than allowed to
// revert it. The session's authoritative write path.
func (s *Saver) Write(ctx context.Context, session *models.Session) error {
	if session == nil {
		return nil
	}
	snapshot := session.Clone()

	s.mu.Lock()
	st, seq := s.claimLocked(session.ID)
	s.mu.Unlock()

	return s.write(ctx, session.ID, st, seq, snapshot)
}

// Cancel drops any pending snapshot without writing it. Used when the
// caller has already persisted a fresher state itself.
func (s *Saver) Cancel(sessionID id.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pending[sessionID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.pending, sessionID)
	}
}

// Close flushes every pending snapshot and rejects further scheduling.
func (s *Saver) Close(ctx context.Context) error {
	type remaining struct {
		sessionID id.SessionID
		st        *sessionState
		seq       uint64
		snapshot  *models.Session
	}

	s.mu.Lock()
	s.closed = true
	drain := make([]remaining, 0, len(s.pending))
	for sessionID, e := range s.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		st, seq := s.claimLocked(sessionID)
		drain = append(drain, remaining{sessionID, st, seq, e.snapshot})
	}
	s.pending = make(map[id.SessionID]*entry)
	s.mu.Unlock()

	var firstErr error
	for _, r := range drain {
		if err := s.write(ctx, r.sessionID, r.st, r.seq, r.snapshot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Saver) flush(sessionID id.SessionID, gen uint64) {
	s.mu.Lock()
	e, ok := s.pending[sessionID]
	if !ok || e.gen != gen {
		// A newer schedule, flush, or cancel superseded this timer.
		s.mu.Unlock()
		return
	}
	snapshot := e.snapshot
	delete(s.pending, sessionID)
	st, seq := s.claimLocked(sessionID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.write(ctx, sessionID, st, seq, snapshot); err != nil {
		s.logger.Error("autosave flush failed",
			"session_id", sessionID.String(),
			"error", err,
		)
	}
}

// claimLocked hands out the session's next write sequence and registers the
// caller as an in-flight writer. Callers must hold s.mu and must pass the
// result to write, which releases the claim.
func (s *Saver) claimLocked(sessionID id.SessionID) (*sessionState, uint64) {
	st, ok := s.states[sessionID]
	if !ok {
		st = &sessionState{}
		s.states[sessionID] = st
	}
	st.refs++
	st.seq++
	return st, st.seq
}

func (s *Saver) release(sessionID id.SessionID, st *sessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.refs--
	if st.refs == 0 {
		if _, ok := s.pending[sessionID]; !ok {
			delete(s.states, sessionID)
		}
	}
}

// write lands the snapshot under the session's write lock. A nil snapshot
// is a pure barrier; a sequence at or below the last written one means a
// newer snapshot already reached the store, so the write is dropped.
func (s *Saver) write(ctx context.Context, sessionID id.SessionID, st *sessionState, seq uint64, snapshot *models.Session) error {
	defer s.release(sessionID, st)

	st.mu.Lock()
	defer st.mu.Unlock()
	if snapshot == nil || seq <= st.written {
		return nil
	}

	err := s.store.Update(ctx, snapshot)
	if err == nil {
		st.written = seq
	}
	if s.observer != nil {
		s.observer(snapshot.ID, err)
	}
	return err
}
