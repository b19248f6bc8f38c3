package autosave

import (
	"sync"

	"github.com/koinonia/draftsafe/draft"
	"github.com/koinonia/draftsafe/pkg/backup"
	"github.com/rs/zerolog"
)

// A TeardownHandler runs when its host is going away.  It must finish its
// work synchronously.
type TeardownHandler interface {
	Teardown()
}

// A Lifecycle notifies registered handlers of teardown.
type Lifecycle interface {
	RegisterTeardownHandler(h TeardownHandler)
	UnregisterTeardownHandler(h TeardownHandler)
}

// Beacon sends a teardown request without waiting for a response.  Send
// reports whether the request was queued.
type Beacon interface {
	Send(req draft.BeaconRequest) bool
}

// A Guard makes sure the latest payload survives teardown: it sends it to
// the server through a beacon and writes it to the local backup.
type Guard struct {
	mu        sync.Mutex
	lifecycle Lifecycle
	editor    Editor
	scheduler *Scheduler
	beacon    Beacon
	backup    *backup.Store
	owner     string
	post      string
	attached  bool
	log       zerolog.Logger
}

// GuardConfig configures a Guard.  Beacon may be nil.
type GuardConfig struct {
	Lifecycle  Lifecycle
	Editor     Editor
	Scheduler  *Scheduler
	Beacon     Beacon
	Backup     *backup.Store
	OwnerID    string
	LinkedPost string
	Logger     *zerolog.Logger
}

func NewGuard(cfg GuardConfig) *Guard {
	g := &Guard{
		lifecycle: cfg.Lifecycle,
		editor:    cfg.Editor,
		scheduler: cfg.Scheduler,
		beacon:    cfg.Beacon,
		backup:    cfg.Backup,
		owner:     cfg.OwnerID,
		post:      cfg.LinkedPost,
		log:       zerolog.Nop(),
	}
	if cfg.Logger != nil {
		g.log = cfg.Logger.With().Str("component", "guard").Logger()
	}
	return g
}

// Attach registers the guard with its lifecycle.  Attaching twice is a
// no-op.
func (g *Guard) Attach() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attached {
		return
	}
	g.lifecycle.RegisterTeardownHandler(g)
	g.attached = true
}

// Detach unregisters the guard.
func (g *Guard) Detach() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.attached {
		return
	}
	g.lifecycle.UnregisterTeardownHandler(g)
	g.attached = false
}

// Attached reports whether the guard is registered.
func (g *Guard) Attached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attached
}

// Teardown takes the editor's snapshot, stops pending timers, fires the
// beacon and then writes the local backup.  The backup is written even if
// the beacon fails or panics.
func (g *Guard) Teardown() {
	p := g.editor.GetSnapshot()
	var draftID string
	if g.scheduler != nil {
		g.scheduler.Cancel()
		draftID, _ = g.scheduler.DraftID()
	}

	g.sendBeacon(draft.BeaconRequest{DraftID: draftID, LinkedPost: g.post, Payload: p})

	if g.backup == nil {
		return
	}
	snap := backup.Snapshot{OwnerID: g.owner, DraftID: draftID, LinkedPost: g.post, Payload: p}
	if _, err := g.backup.Write(snap); err != nil {
		g.log.Error().Err(err).Msg("teardown backup failed")
	}
}

func (g *Guard) sendBeacon(req draft.BeaconRequest) {
	if g.beacon == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().Interface("panic", r).Msg("teardown beacon panicked")
		}
	}()
	if !g.beacon.Send(req) {
		g.log.Warn().Msg("teardown beacon not queued")
	}
}
