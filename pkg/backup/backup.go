// Package backup keeps a small ring of local draft snapshots per owner.
//
// Snapshots are written synchronously to a Storage under keys of the form
// draft_backup_{draftId|new|new-{linkedPost}}_{capturedAtMillis}, and only
// the newest few per owner are retained.  Keys outside that namespace are
// never read or removed.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koinonia/draftsafe/draft"
	"github.com/rs/zerolog"
)

// KeyPrefix namespaces every backup key.
const KeyPrefix = "draft_backup_"

// DefaultCap is the number of snapshots retained per owner.
const DefaultCap = 10

// A Snapshot is one locally captured payload.
type Snapshot struct {
	Key        string        `json:"-"`
	DraftID    string        `json:"draftId,omitempty"`
	LinkedPost string        `json:"linkedPost"`
	OwnerID    string        `json:"ownerId"`
	Payload    draft.Payload `json:"payload"`
	CapturedAt time.Time     `json:"capturedAt"`
}

// Placeholder returns the key component identifying the draft of a
// snapshot: the draft id, or a stand-in for drafts that were never created.
func Placeholder(draftID, linkedPost string) string {
	switch {
	case len(draftID) > 0:
		return draftID
	case len(linkedPost) == 0:
		return "new"
	}
	return "new-" + linkedPost
}

// Key returns the storage key for s.
func Key(s Snapshot) string {
	return fmt.Sprintf("%s%s_%d", KeyPrefix, Placeholder(s.DraftID, s.LinkedPost), s.CapturedAt.UnixMilli())
}

// Store is the local backup store.  All methods are synchronous and safe
// for concurrent use.
type Store struct {
	mu      sync.Mutex
	storage Storage
	cap     int
	log     zerolog.Logger
	now     func() time.Time
}

// NewStore returns a store over storage retaining DefaultCap snapshots per
// owner.
func NewStore(storage Storage) *Store {
	return &Store{storage: storage, cap: DefaultCap, log: zerolog.Nop(), now: time.Now}
}

// WithCap sets the number of snapshots retained per owner.
func (s *Store) WithCap(n int) *Store {
	if n > 0 {
		s.cap = n
	}
	return s
}

// WithLogger sets the store's logger.
func (s *Store) WithLogger(l zerolog.Logger) *Store {
	s.log = l
	return s
}

// WithClock sets the clock used to stamp snapshots without a CapturedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Cap returns the per-owner retention.
func (s *Store) Cap() int { return s.cap }

// Write persists snap and prunes its owner's snapshots down to the cap.
// A zero CapturedAt is set to now.  When storage is out of room, the
// owner's snapshots are pruned to one below the cap and the write is tried
// once more; if that fails too the snapshot is dropped and the error
// returned.
func (s *Store) Write(snap Snapshot) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = s.now()
	}
	snap.CapturedAt = draft.Stamp(snap.CapturedAt)
	snap.Payload = snap.Payload.Clone()
	snap.Key = Key(snap)

	b, err := json.Marshal(snap)
	if err != nil {
		return snap, fmt.Errorf("encoding snapshot: %w", err)
	}

	err = s.storage.SetItem(snap.Key, string(b))
	if errors.Is(err, ErrQuotaExceeded) {
		s.log.Warn().Str("owner", snap.OwnerID).Msg("backup quota exceeded, pruning")
		s.pruneTo(snap.OwnerID, s.cap-1)
		err = s.storage.SetItem(snap.Key, string(b))
	}
	if err != nil {
		return snap, fmt.Errorf("writing backup %s: %w", snap.Key, err)
	}

	s.pruneTo(snap.OwnerID, s.cap)
	return snap, nil
}

// all returns every readable snapshot matching fn, newest first.
func (s *Store) all(fn func(Snapshot) bool) []Snapshot {
	keys, err := s.storage.Keys()
	if err != nil {
		s.log.Error().Err(err).Msg("listing backups")
		return nil
	}
	var out []Snapshot
	for _, k := range keys {
		if !strings.HasPrefix(k, KeyPrefix) {
			continue
		}
		v, err := s.storage.GetItem(k)
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(v), &snap); err != nil {
			s.log.Warn().Str("key", k).Err(err).Msg("skipping unreadable backup")
			continue
		}
		snap.Key = k
		if snap.Payload == nil {
			snap.Payload = draft.Payload{}
		}
		if fn(snap) {
			out = append(out, snap)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	return out
}

// ReadLatest returns the newest snapshot whose owner or draft id is id.
func (s *Store) ReadLatest(id string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.all(func(snap Snapshot) bool {
		return snap.OwnerID == id || (len(snap.DraftID) > 0 && snap.DraftID == id)
	})
	if len(snaps) == 0 {
		return Snapshot{}, false
	}
	return snaps[0], true
}

// ListAll returns every snapshot of owner, newest first.
func (s *Store) ListAll(owner string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.all(func(snap Snapshot) bool { return snap.OwnerID == owner })
}

func matches(snap Snapshot, owner, draftID, linkedPost string) bool {
	if snap.OwnerID != owner {
		return false
	}
	if len(draftID) > 0 && snap.DraftID == draftID {
		return true
	}
	return snap.LinkedPost == linkedPost
}

// ListFor returns owner's snapshots of one piece of content, newest first:
// those of draftID, or taken for linkedPost.
func (s *Store) ListFor(owner, draftID, linkedPost string) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.all(func(snap Snapshot) bool { return matches(snap, owner, draftID, linkedPost) })
}

// Clear removes the snapshots ListFor would return, and reports how many
// were removed.
func (s *Store) Clear(owner, draftID, linkedPost string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, snap := range s.all(func(snap Snapshot) bool { return matches(snap, owner, draftID, linkedPost) }) {
		if err := s.storage.RemoveItem(snap.Key); err != nil {
			s.log.Error().Err(err).Str("key", snap.Key).Msg("removing backup")
			continue
		}
		n++
	}
	return n
}

// Prune deletes owner's oldest snapshots until at most the cap remain.
func (s *Store) Prune(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneTo(owner, s.cap)
}

func (s *Store) pruneTo(owner string, keep int) int {
	if keep < 0 {
		keep = 0
	}
	snaps := s.all(func(snap Snapshot) bool { return snap.OwnerID == owner })
	if len(snaps) <= keep {
		return 0
	}
	n := 0
	// newest first, so everything past keep is oldest
	for _, snap := range snaps[keep:] {
		if err := s.storage.RemoveItem(snap.Key); err != nil {
			s.log.Error().Err(err).Str("key", snap.Key).Msg("pruning backup")
			continue
		}
		n++
	}
	return n
}
