// Package draft holds the draft model shared by the autosave client and the
// draft server: payloads, drafts, the error taxonomy, the Store interface the
// client persists through, and the SQLite-backed Service that implements it.
package draft

import (
	"context"
	"time"
)

// Status is the client-side synchronisation state of a draft.
type Status string

const (
	StatusNew     Status = "NEW"
	StatusSyncing Status = "SYNCING"
	StatusSynced  Status = "SYNCED"
	StatusStale   Status = "STALE"
)

// A Draft is the server-persisted, in-progress version of a post.  There is
// at most one Draft per (OwnerID, LinkedPost).
type Draft struct {
	ID         string `db:"id" json:"id"`
	OwnerID    string `db:"owner_id" json:"owner_id"`
	LinkedPost string `db:"linked_post" json:"linked_post"`
	// Title is denormalised from the payload for listings.
	Title          string    `db:"title" json:"title"`
	Payload        Payload   `db:"payload" json:"payload"`
	Version        int       `db:"version" json:"version"`
	LastAutosaveAt time.Time `db:"last_autosave_at" json:"last_autosave_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
	Status         Status    `db:"-" json:"status,omitempty"`
}

// IsNew is true for drafts of brand-new content.
func (d *Draft) IsNew() bool { return len(d.LinkedPost) == 0 }

// Store is the remote draft store the autosave client persists through.
// Create is an upsert on (ownerID, linkedPost), so calling it for a pair
// that already has a draft updates that draft.
type Store interface {
	Create(ctx context.Context, ownerID, linkedPost string, payload Payload) (*Draft, error)
	Update(ctx context.Context, draftID string, payload Payload) (*Draft, error)
	Delete(ctx context.Context, draftID string) error
	List(ctx context.Context, ownerID string) ([]*Draft, error)
	// Find returns the draft for (ownerID, linkedPost), or nil if there is none.
	Find(ctx context.Context, ownerID, linkedPost string) (*Draft, error)
}

// Stamp normalises t to UTC at millisecond precision.  Every timestamp the
// engine compares goes through Stamp first.
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Now returns the current time, stamped.
func Now() time.Time {
	return Stamp(time.Now())
}
