// Package drafttest provides an in-memory draft.Store for tests, with hooks
// for injecting failures and holding calls open.
package drafttest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/koinonia/draftsafe/draft"
)

// Call records one store invocation.
type Call struct {
	Op         string
	DraftID    string
	LinkedPost string
	Payload    draft.Payload
}

// MemStore is a draft.Store kept in memory.  It follows the server's
// semantics: Create upserts on (owner, linkedPost), identical updates are
// no-ops, and invalid payloads are rejected with a ValidationError.
type MemStore struct {
	mu     sync.Mutex
	drafts map[string]*draft.Draft
	calls  []Call
	seq    int
	now    func() time.Time

	fail func(op string) error
	gate chan struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{drafts: map[string]*draft.Draft{}, now: draft.Now}
}

// SetClock replaces the clock used for timestamps.
func (m *MemStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetFail installs fn, consulted before every call; a non-nil error is
// returned instead of running it.  A nil fn clears it.
func (m *MemStore) SetFail(fn func(op string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// SetGate makes every Create and Update receive from gate before running.
func (m *MemStore) SetGate(gate chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

// Calls returns every invocation so far.
func (m *MemStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Writes returns the Create and Update invocations so far.
func (m *MemStore) Writes() []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == "create" || c.Op == "update" {
			out = append(out, c)
		}
	}
	return out
}

// Put stores d as is, replacing any draft with the same id.
func (m *MemStore) Put(d *draft.Draft) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.Payload = d.Payload.Clone()
	m.drafts[d.ID] = &cp
}

// Len returns the number of stored drafts.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.drafts)
}

func (m *MemStore) begin(ctx context.Context, c Call) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	fail, gate := m.fail, m.gate
	m.mu.Unlock()

	if gate != nil && (c.Op == "create" || c.Op == "update") {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail(c.Op)
	}
	return nil
}

func clone(d *draft.Draft) *draft.Draft {
	cp := *d
	cp.Payload = d.Payload.Clone()
	cp.Status = draft.StatusSynced
	return &cp
}

func (m *MemStore) Create(ctx context.Context, owner, linkedPost string, p draft.Payload) (*draft.Draft, error) {
	if err := m.begin(ctx, Call{Op: "create", LinkedPost: linkedPost, Payload: p.Clone()}); err != nil {
		return nil, err
	}
	if len(owner) == 0 {
		return nil, draft.ErrUnauthorized
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drafts {
		if d.OwnerID == owner && d.LinkedPost == linkedPost {
			return clone(m.updateLocked(d, p)), nil
		}
	}
	m.seq++
	now := draft.Stamp(m.now())
	d := &draft.Draft{
		ID:             fmt.Sprintf("d%d", m.seq),
		OwnerID:        owner,
		LinkedPost:     linkedPost,
		Title:          p.Title(),
		Payload:        p.Clone(),
		Version:        1,
		LastAutosaveAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.drafts[d.ID] = d
	return clone(d), nil
}

func (m *MemStore) updateLocked(d *draft.Draft, p draft.Payload) *draft.Draft {
	if d.Payload.Equal(p) {
		return d
	}
	now := draft.Stamp(m.now())
	d.Payload = p.Clone()
	d.Title = p.Title()
	d.Version++
	d.LastAutosaveAt, d.UpdatedAt = now, now
	return d
}

func (m *MemStore) Update(ctx context.Context, id string, p draft.Payload) (*draft.Draft, error) {
	if err := m.begin(ctx, Call{Op: "update", DraftID: id, Payload: p.Clone()}); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, draft.ErrNotFound
	}
	return clone(m.updateLocked(d, p)), nil
}

func (m *MemStore) Delete(ctx context.Context, id string) error {
	if err := m.begin(ctx, Call{Op: "delete", DraftID: id}); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[id]; !ok {
		return draft.ErrNotFound
	}
	delete(m.drafts, id)
	return nil
}

func (m *MemStore) List(ctx context.Context, owner string) ([]*draft.Draft, error) {
	if err := m.begin(ctx, Call{Op: "list"}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*draft.Draft
	for _, d := range m.drafts {
		if d.OwnerID == owner {
			out = append(out, clone(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemStore) Find(ctx context.Context, owner, linkedPost string) (*draft.Draft, error) {
	if err := m.begin(ctx, Call{Op: "find", LinkedPost: linkedPost}); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drafts {
		if d.OwnerID == owner && d.LinkedPost == linkedPost {
			return clone(d), nil
		}
	}
	return nil, nil
}
