package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/koinonia/draftsafe/draft"
	"github.com/koinonia/draftsafe/pkg/backup"
	"github.com/koinonia/draftsafe/pkg/recovery"
	"github.com/rs/zerolog"
)

var (
	// ErrRecoveryPending is returned by Schedule until a restorable
	// decision has been resolved.
	ErrRecoveryPending = errors.New("recovery decision pending")
	// ErrNoRecovery is returned by Resolve when there is nothing to resolve.
	ErrNoRecovery = errors.New("no recovery pending")
	// ErrClosed is returned by a closed session.
	ErrClosed = errors.New("session closed")
)

// Options configures an editing session.  Store and Editor are required.
// Without a Lifecycle the session is never torn down; without a Beacon
// teardown only writes the local backup.
type Options struct {
	OwnerID    string
	LinkedPost string
	Store      draft.Store
	Backup     *backup.Store
	Editor     Editor
	Lifecycle  Lifecycle
	Beacon     Beacon
	Debounce   time.Duration
	Timeout    time.Duration
	Logger     *zerolog.Logger
}

// A Session is one author editing one piece of content.  It owns the
// scheduler, guard and projector for that editor, so sessions never share
// state.
type Session struct {
	mu       sync.Mutex
	opts     Options
	log      zerolog.Logger
	decision recovery.Decision
	pending  bool
	closed   bool

	scheduler *Scheduler
	guard     *Guard
	projector *Projector
	unsub     func()
}

// Open starts a session.  It reconciles the remote and local stores first;
// when that finds earlier work the session waits for Resolve before it
// accepts mutations.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Store == nil || opts.Editor == nil {
		return nil, errors.New("autosave: Store and Editor are required")
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = &ManualLifecycle{}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str("owner", opts.OwnerID).Str("post", opts.LinkedPost).Logger()
	}

	neg := recovery.NewNegotiator(opts.Store, opts.Backup).WithLogger(log)
	dec, err := neg.Reconcile(ctx, opts.OwnerID, opts.LinkedPost, opts.Editor.GetSnapshot())
	if err != nil {
		return nil, fmt.Errorf("reconciling drafts: %w", err)
	}

	s := &Session{
		opts:     opts,
		log:      log,
		decision: dec,
		pending:  dec.Kind == recovery.Restorable,
	}
	s.scheduler = NewScheduler(SchedulerConfig{
		Store:      opts.Store,
		Backup:     opts.Backup,
		OwnerID:    opts.OwnerID,
		LinkedPost: opts.LinkedPost,
		Debounce:   opts.Debounce,
		Timeout:    opts.Timeout,
		Logger:     &log,
	})
	if dec.Existing != nil {
		s.scheduler.Resume(dec.Existing)
	}
	s.projector = NewProjector(s.scheduler.Retry)
	s.unsub = s.scheduler.Subscribe(s.projector.Update)
	s.projector.Update(s.scheduler.State())

	s.guard = NewGuard(GuardConfig{
		Lifecycle:  opts.Lifecycle,
		Editor:     opts.Editor,
		Scheduler:  s.scheduler,
		Beacon:     opts.Beacon,
		Backup:     opts.Backup,
		OwnerID:    opts.OwnerID,
		LinkedPost: opts.LinkedPost,
		Logger:     &log,
	})
	// until the author decides, the form does not hold their work and
	// must not overwrite it on teardown
	if !s.pending {
		s.guard.Attach()
	}
	log.Debug().Str("decision", dec.Kind.String()).Msg("autosave session open")
	return s, nil
}

// Decision returns the recovery decision made when the session opened.
func (s *Session) Decision() recovery.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision
}

// RecoveryPending reports whether Resolve is still awaited.
func (s *Session) RecoveryPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Schedule records a mutation of the form.
func (s *Session) Schedule(p draft.Payload) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.pending:
		s.mu.Unlock()
		return ErrRecoveryPending
	}
	s.mu.Unlock()
	s.scheduler.Schedule(p)
	return nil
}

// Resolve answers a restorable decision.
func (s *Session) Resolve(ctx context.Context, r recovery.Resolution) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.pending {
		s.mu.Unlock()
		return ErrNoRecovery
	}
	dec := s.decision
	s.mu.Unlock()

	var draftID string
	if dec.Existing != nil {
		draftID = dec.Existing.ID
	}

	switch r {
	case recovery.Restore:
		s.opts.Editor.ApplySnapshot(dec.Payload.Clone())
		s.clearBackups(draftID)
		s.finishRecovery()
		if dec.Source == recovery.Local {
			// the server has not seen this payload yet
			s.scheduler.Schedule(dec.Payload)
		}
	case recovery.Discard:
		if dec.Existing != nil {
			err := s.opts.Store.Delete(ctx, draftID)
			if err != nil && !errors.Is(err, draft.ErrNotFound) {
				return fmt.Errorf("discarding draft %s: %w", draftID, err)
			}
		}
		s.clearBackups(draftID)
		s.scheduler.Reset()
		s.finishRecovery()
	case recovery.SaveForLater:
		s.Close()
	default:
		return fmt.Errorf("unknown resolution %d", r)
	}
	s.log.Info().Str("resolution", r.String()).Msg("recovery resolved")
	return nil
}

func (s *Session) clearBackups(draftID string) {
	if s.opts.Backup == nil {
		return
	}
	n := s.opts.Backup.Clear(s.opts.OwnerID, draftID, s.opts.LinkedPost)
	s.log.Debug().Int("count", n).Msg("cleared backups")
}

func (s *Session) finishRecovery() {
	s.mu.Lock()
	s.pending = false
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.guard.Attach()
	}
}

// SetOnline records connectivity.  Coming back online retries whatever
// failed while offline.
func (s *Session) SetOnline(online bool) {
	s.scheduler.SetOnline(online)
	s.projector.SetOnline(online)
}

// Status returns the projected autosave status.
func (s *Session) Status() Status { return s.projector.Status() }

// Subscribe calls fn on every status change.
func (s *Session) Subscribe(fn func(Status)) func() { return s.projector.Subscribe(fn) }

// State returns the scheduler's state.
func (s *Session) State() StateInfo { return s.scheduler.State() }

// DraftID returns the id of the session's draft, once it has one.
func (s *Session) DraftID() (string, bool) { return s.scheduler.DraftID() }

// Flush saves anything pending right away and waits for it.
func (s *Session) Flush(ctx context.Context) error {
	return s.scheduler.FlushNow(ctx)
}

// Close is a clean unmount: timers stop, the guard detaches, and a save
// already in flight is left to complete.  Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.scheduler.Cancel()
	s.guard.Detach()
	s.unsub()
	return nil
}
