// Package recovery decides, when an editing session starts, whether there is
// earlier unsaved work to offer the author.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/koinonia/draftsafe/draft"
	"github.com/koinonia/draftsafe/pkg/backup"
	"github.com/rs/zerolog"
)

// Kind says whether a Decision offers anything.
type Kind int

const (
	None Kind = iota
	Restorable
)

func (k Kind) String() string {
	if k == Restorable {
		return "restorable"
	}
	return "none"
}

// Source is where a restorable payload came from.
type Source int

const (
	Remote Source = iota
	Local
)

func (s Source) String() string {
	if s == Local {
		return "local"
	}
	return "remote"
}

// Resolution is the author's answer to a restorable Decision.
type Resolution int

const (
	// Restore applies the payload to the form and resumes on the draft.
	Restore Resolution = iota
	// Discard deletes the draft and its snapshots and starts afresh.
	Discard
	// SaveForLater leaves everything untouched and ends the session.
	SaveForLater
)

func (r Resolution) String() string {
	switch r {
	case Restore:
		return "restore"
	case Discard:
		return "discard"
	case SaveForLater:
		return "save-for-later"
	}
	return "unknown"
}

// ParseResolution parses the String form of a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "restore", "r":
		return Restore, nil
	case "discard", "d":
		return Discard, nil
	case "save-for-later", "later", "l":
		return SaveForLater, nil
	}
	return 0, fmt.Errorf("unknown resolution %q", s)
}

// A Decision is the outcome of reconciling the remote and local stores.
type Decision struct {
	Kind       Kind
	Source     Source
	Payload    draft.Payload
	CapturedAt time.Time
	// Existing is the remote draft for the session, if there is one, even
	// when there is nothing to restore.
	Existing *draft.Draft
	// Snapshot is the chosen local snapshot when Source is Local.
	Snapshot *backup.Snapshot
	// Diff is a unified diff from the current form to Payload.
	Diff string
	// RemoteErr is set when the remote store could not be reached and the
	// decision was made from local snapshots alone.
	RemoteErr error
}

// A Negotiator reconciles a draft.Store with a backup.Store.
type Negotiator struct {
	store  draft.Store
	backup *backup.Store
	log    zerolog.Logger
}

func NewNegotiator(store draft.Store, backups *backup.Store) *Negotiator {
	return &Negotiator{store: store, backup: backups, log: zerolog.Nop()}
}

func (n *Negotiator) WithLogger(l zerolog.Logger) *Negotiator {
	n.log = l.With().Str("component", "recovery").Logger()
	return n
}

// Reconcile looks for earlier work on (owner, linkedPost).  A remote draft
// with content is restorable; so is a local snapshot taken strictly after
// the draft's last autosave, or any snapshot when there is no draft.  The
// later of the two wins, and a tie goes to the remote draft.  Nothing is
// offered when the winner already matches current.
//
// A transient remote failure is not fatal: the decision is made from local
// snapshots and the error is kept in RemoteErr.
func (n *Negotiator) Reconcile(ctx context.Context, owner, linkedPost string, current draft.Payload) (Decision, error) {
	var dec Decision

	existing, err := n.store.Find(ctx, owner, linkedPost)
	if err != nil {
		if !draft.IsTransient(err) {
			return dec, fmt.Errorf("finding draft: %w", err)
		}
		n.log.Warn().Err(err).Msg("remote unavailable, reconciling local snapshots only")
		dec.RemoteErr = err
		existing = nil
	}
	dec.Existing = existing

	var draftID string
	if existing != nil {
		draftID = existing.ID
	}
	var local *backup.Snapshot
	if n.backup != nil {
		for _, snap := range n.backup.ListFor(owner, draftID, linkedPost) {
			if snap.Payload.IsEmpty() {
				continue
			}
			if existing != nil && !snap.CapturedAt.After(draft.Stamp(existing.LastAutosaveAt)) {
				continue
			}
			s := snap
			local = &s
			break
		}
	}

	switch {
	case local != nil:
		dec.Kind, dec.Source = Restorable, Local
		dec.Payload, dec.CapturedAt = local.Payload, local.CapturedAt
		dec.Snapshot = local
	case existing != nil && !existing.Payload.IsEmpty():
		dec.Kind, dec.Source = Restorable, Remote
		dec.Payload, dec.CapturedAt = existing.Payload, draft.Stamp(existing.LastAutosaveAt)
	default:
		return dec, nil
	}

	if dec.Payload.Equal(current) {
		dec.Kind = None
		return dec, nil
	}
	dec.Diff = Diff(current, dec.Payload)
	n.log.Info().Str("source", dec.Source.String()).Time("captured_at", dec.CapturedAt).Msg("found restorable work")
	return dec, nil
}

func text(p draft.Payload) string {
	return fmt.Sprintf("# %s\n\n%s\n", p.Title(), p.Content())
}

// Diff returns a unified diff of the title and content of from against to.
func Diff(from, to draft.Payload) string {
	a, b := text(from), text(to)
	edits := myers.ComputeEdits(span.URIFromPath("current"), a, b)
	return fmt.Sprint(gotextdiff.ToUnified("current", "recovered", a, edits))
}
