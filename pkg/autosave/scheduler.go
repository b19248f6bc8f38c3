// Package autosave persists drafts while they are being written.
//
// A Scheduler debounces payload mutations into saves against a remote
// draft.Store and falls back to the local backup store whenever a save
// fails.  A Guard flushes both paths when the session is torn down, and a
// Projector turns scheduler state and connectivity into a user facing
// status.  Open wires all of them together for one editing session.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/koinonia/draftsafe/draft"
	"github.com/koinonia/draftsafe/pkg/backup"
	"github.com/rs/zerolog"
)

// Defaults for SchedulerConfig.
const (
	DefaultDebounce = time.Second
	DefaultTimeout  = 10 * time.Second
)

// State is where the scheduler is in its save cycle.
type State int

const (
	Idle State = iota
	Pending
	Saving
	Saved
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Pending:
		return "PENDING"
	case Saving:
		return "SAVING"
	case Saved:
		return "SAVED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// StateInfo is a snapshot of a scheduler.
type StateInfo struct {
	State State
	// Outcome is the result of the last completed save: Idle if there has
	// been none, otherwise Saved or Failed.
	Outcome        State
	Err            error
	DraftID        string
	LastAutosaveAt time.Time
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Store      draft.Store
	Backup     *backup.Store
	OwnerID    string
	LinkedPost string
	// Debounce is the quiet period after a mutation before it is saved.
	Debounce time.Duration
	// Timeout bounds every remote call.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// A Scheduler debounces payload mutations into remote saves.  At most one
// save is in flight at a time; mutations arriving meanwhile are saved, with
// the latest payload, as soon as it resolves.
type Scheduler struct {
	mu sync.Mutex
	// held while subscribers run, so they see states in order
	notifyMu sync.Mutex

	store      draft.Store
	backup     *backup.Store
	owner      string
	linkedPost string
	debounce   time.Duration
	timeout    time.Duration
	log        zerolog.Logger

	// draft identity; nil until the first successful create
	draftID *string
	lastAt  time.Time
	// set once the first save since mount or Reset has gone out
	dispatched bool

	state   State
	outcome State
	lastErr error

	pending    draft.Payload
	hasPending bool
	// payload of the last failed save, for Retry
	failed draft.Payload

	timer    *time.Timer
	inflight bool
	done     chan struct{}
	stopped  bool
	online   bool

	subs   map[int]func(StateInfo)
	nextID int
}

// NewScheduler returns an idle scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		store:      cfg.Store,
		backup:     cfg.Backup,
		owner:      cfg.OwnerID,
		linkedPost: cfg.LinkedPost,
		debounce:   cfg.Debounce,
		timeout:    cfg.Timeout,
		log:        zerolog.Nop(),
		online:     true,
		subs:       map[int]func(StateInfo){},
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", "autosave").Str("owner", cfg.OwnerID).Logger()
	}
	return s
}

func (s *Scheduler) infoLocked() StateInfo {
	info := StateInfo{
		State:          s.state,
		Outcome:        s.outcome,
		Err:            s.lastErr,
		LastAutosaveAt: s.lastAt,
	}
	if s.draftID != nil {
		info.DraftID = *s.draftID
	}
	return info
}

// State returns a snapshot of the scheduler.
func (s *Scheduler) State() StateInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

// DraftID returns the id of the draft being saved, if it has one.
func (s *Scheduler) DraftID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draftID == nil {
		return "", false
	}
	return *s.draftID, true
}

// Subscribe calls fn with a snapshot after every state change, in order.
// fn must not block or call back into the scheduler.  The returned func
// unsubscribes.
func (s *Scheduler) Subscribe(fn func(StateInfo)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// unlockAndNotify releases the lock and publishes the current state.
func (s *Scheduler) unlockAndNotify() {
	info := s.infoLocked()
	subs := make([]func(StateInfo), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, fn := range subs {
		fn(info)
	}
}

// Resume continues saving into an existing draft instead of creating one.
func (s *Scheduler) Resume(d *draft.Draft) {
	s.mu.Lock()
	id := d.ID
	s.draftID = &id
	s.lastAt = d.LastAutosaveAt
	s.unlockAndNotify()
}

// Reset forgets the draft identity, so the next mutation creates a fresh
// draft.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.draftID = nil
	s.lastAt = time.Time{}
	s.dispatched = false
	s.hasPending, s.pending, s.failed = false, nil, nil
	s.lastErr = nil
	if !s.inflight {
		s.state = Idle
	}
	s.outcome = Idle
	s.unlockAndNotify()
}

// SetOnline records connectivity.  While offline, saves skip the network
// and fail with draft.ErrOffline, which sends them to the local backup.
func (s *Scheduler) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	if !changed {
		s.mu.Unlock()
		return
	}
	s.unlockAndNotify()
}

// Schedule records a mutation.  The first mutation after mount or Reset of a
// draft that has never been created is dispatched immediately; every later
// one is debounced, even if that first create failed.
func (s *Scheduler) Schedule(p draft.Payload) {
	s.mu.Lock()
	s.pending = p.Clone()
	s.hasPending = true
	s.stopped = false

	switch {
	case s.inflight:
		// dispatched when the in-flight save resolves
	case s.draftID == nil && !s.dispatched:
		s.stopTimerLocked()
		s.dispatchLocked()
	default:
		s.state = Pending
		s.stopTimerLocked()
		s.timer = time.AfterFunc(s.debounce, s.fire)
	}
	s.unlockAndNotify()
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	if s.inflight || !s.hasPending || s.stopped {
		s.mu.Unlock()
		return
	}
	s.dispatchLocked()
	s.unlockAndNotify()
}

// dispatchLocked starts a save of the pending payload.
func (s *Scheduler) dispatchLocked() {
	p := s.pending
	s.pending, s.hasPending = nil, false
	s.inflight = true
	s.dispatched = true
	s.state = Saving
	s.done = make(chan struct{})

	var id *string
	if s.draftID != nil {
		v := *s.draftID
		id = &v
	}
	go s.save(p, id, s.online, s.done)
}

// save runs one remote call.  Its context is not tied to Cancel.
func (s *Scheduler) save(p draft.Payload, id *string, online bool, done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var (
		d   *draft.Draft
		err error
	)
	switch {
	case !online:
		err = draft.ErrOffline
	case id == nil:
		d, err = s.store.Create(ctx, s.owner, s.linkedPost, p)
	default:
		d, err = s.store.Update(ctx, *id, p)
		if errors.Is(err, draft.ErrNotFound) {
			s.log.Info().Str("draft", *id).Msg("draft gone, creating a new one")
			d, err = s.store.Create(ctx, s.owner, s.linkedPost, p)
		}
	}
	if err == nil && d == nil {
		err = errors.New("store returned no draft")
	}
	if err != nil && !draft.IsTransient(err) && (errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil) {
		err = draft.Transient("save", err)
	}
	s.complete(p, id, d, err, done)
}

func (s *Scheduler) complete(p draft.Payload, id *string, d *draft.Draft, err error, done chan struct{}) {
	s.mu.Lock()
	s.inflight = false

	if err == nil {
		newID := d.ID
		s.draftID = &newID
		s.lastAt = draft.Stamp(d.LastAutosaveAt)
		s.state, s.outcome = Saved, Saved
		s.lastErr, s.failed = nil, nil
	} else {
		s.state, s.outcome = Failed, Failed
		s.lastErr = err
		s.failed = p
		s.writeBackupLocked(p, id)
		ev := s.log.Warn()
		if !draft.IsTransient(err) {
			ev = s.log.Error()
		}
		ev.Err(err).Msg("autosave failed, payload backed up locally")
	}

	if s.hasPending && !s.stopped {
		s.dispatchLocked()
	}
	s.unlockAndNotify()
	// waiters wake only after subscribers have seen the outcome
	close(done)
}

func (s *Scheduler) writeBackupLocked(p draft.Payload, id *string) {
	if s.backup == nil {
		return
	}
	snap := backup.Snapshot{OwnerID: s.owner, LinkedPost: s.linkedPost, Payload: p}
	if id != nil {
		snap.DraftID = *id
	}
	if _, err := s.backup.Write(snap); err != nil {
		s.log.Error().Err(err).Msg("local backup failed")
	}
}

// Retry re-dispatches the pending payload, or the last failed one.
// Failures the store would repeat, such as validation, are not retried.
func (s *Scheduler) Retry() {
	s.mu.Lock()
	switch {
	case s.inflight:
		s.mu.Unlock()
		return
	case s.hasPending:
		s.stopTimerLocked()
	case s.state == Failed && s.failed != nil && draft.IsTransient(s.lastErr):
		s.pending, s.hasPending = s.failed, true
	default:
		s.mu.Unlock()
		return
	}
	s.stopped = false
	s.dispatchLocked()
	s.unlockAndNotify()
}

// FlushNow dispatches anything pending without waiting for the debounce,
// and blocks until every save has been attempted or ctx is done.  It
// returns the error of the last attempt.
func (s *Scheduler) FlushNow(ctx context.Context) error {
	for {
		s.mu.Lock()
		s.stopTimerLocked()
		switch {
		case s.inflight:
			done := s.done
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		case s.hasPending:
			s.stopped = false
			s.dispatchLocked()
			s.unlockAndNotify()
		default:
			var err error
			if s.state == Failed {
				err = s.lastErr
			}
			s.mu.Unlock()
			return err
		}
	}
}

// Cancel stops the debounce timer.  A save already in flight completes,
// but nothing pending is dispatched until the next Schedule.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.stopped = true
}

// Wait blocks until no save is in flight or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.inflight {
			s.mu.Unlock()
			return nil
		}
		done := s.done
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
