package autosave

import (
	"errors"
	"sync"
	"time"

	"github.com/koinonia/draftsafe/draft"
)

// StatusKind is what the user is shown about autosave.
type StatusKind string

const (
	StatusIdle    StatusKind = "idle"
	StatusSaving  StatusKind = "saving"
	StatusSaved   StatusKind = "saved"
	StatusError   StatusKind = "error"
	StatusOffline StatusKind = "offline"
)

// Status is the projected autosave status.  At is set for saved, Message
// for error.
type Status struct {
	Kind    StatusKind
	At      time.Time
	Message string
}

func (s Status) String() string {
	switch s.Kind {
	case StatusSaved:
		return "saved at " + s.At.Local().Format(time.Kitchen)
	case StatusError:
		return "error: " + s.Message
	}
	return string(s.Kind)
}

// Project maps scheduler state and connectivity onto a Status.
func Project(info StateInfo, online bool) Status {
	if !online {
		return Status{Kind: StatusOffline}
	}
	switch info.State {
	case Saving:
		return Status{Kind: StatusSaving}
	case Pending:
		// keep showing how the last save went
		prev := info
		prev.State = info.Outcome
		if prev.State == Pending || prev.State == Saving {
			prev.State = Idle
		}
		return Project(prev, online)
	case Saved:
		return Status{Kind: StatusSaved, At: info.LastAutosaveAt}
	case Failed:
		if errors.Is(info.Err, draft.ErrOffline) {
			// back online: the save is retried, nothing has failed yet
			return Status{Kind: StatusIdle}
		}
		msg := "save failed"
		var ve *draft.ValidationError
		switch {
		case errors.As(info.Err, &ve):
			msg = ve.Message
		case info.Err != nil:
			msg = info.Err.Error()
		}
		return Status{Kind: StatusError, Message: msg}
	}
	return Status{Kind: StatusIdle}
}

// A Projector tracks connectivity and scheduler state and publishes the
// resulting Status.  When connectivity comes back it calls its retry hook.
type Projector struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	online   bool
	info     StateInfo
	current  Status
	retry    func()
	subs     map[int]func(Status)
	nextID   int
}

// NewProjector returns an online projector.  retry may be nil.
func NewProjector(retry func()) *Projector {
	p := &Projector{online: true, retry: retry, subs: map[int]func(Status){}}
	p.current = Project(p.info, p.online)
	return p
}

// Status returns the current status.
func (p *Projector) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Online reports the last known connectivity.
func (p *Projector) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Subscribe calls fn whenever the status changes.  The returned func
// unsubscribes.
func (p *Projector) Subscribe(fn func(Status)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Update takes a new scheduler snapshot.
func (p *Projector) Update(info StateInfo) {
	p.mu.Lock()
	p.info = info
	p.publishLocked()
}

// SetOnline records connectivity.  Going from offline to online triggers a
// retry.
func (p *Projector) SetOnline(online bool) {
	p.mu.Lock()
	reconnected := online && !p.online
	p.online = online
	retry := p.retry
	p.publishLocked()

	if reconnected && retry != nil {
		retry()
	}
}

// publishLocked recomputes the status, unlocks, and notifies on change.
func (p *Projector) publishLocked() {
	next := Project(p.info, p.online)
	changed := next != p.current
	p.current = next
	var subs []func(Status)
	if changed {
		for _, fn := range p.subs {
			subs = append(subs, fn)
		}
	}
	p.notifyMu.Lock()
	p.mu.Unlock()
	defer p.notifyMu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
}
