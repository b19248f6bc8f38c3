package autosave

import (
	"sync"

	"github.com/koinonia/draftsafe/draft"
)

// An Editor is the authoring surface a session saves from and restores
// into.
type Editor interface {
	// GetSnapshot returns the current payload.  It must not block.
	GetSnapshot() draft.Payload
	// ApplySnapshot replaces the current payload.
	ApplySnapshot(draft.Payload)
}

// Form is an in-memory Editor.  Field edits notify the change callback;
// ApplySnapshot does not, since it is never a user mutation.
type Form struct {
	mu       sync.Mutex
	payload  draft.Payload
	onChange func(draft.Payload)
}

// NewForm returns a form holding a copy of p.
func NewForm(p draft.Payload) *Form {
	return &Form{payload: p.Clone()}
}

// OnChange sets the function called with a snapshot after every edit.
func (f *Form) OnChange(fn func(draft.Payload)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

func (f *Form) GetSnapshot() draft.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload.Clone()
}

func (f *Form) ApplySnapshot(p draft.Payload) {
	f.mu.Lock()
	f.payload = p.Clone()
	f.mu.Unlock()
}

// Set a single field and notify.
func (f *Form) Set(field string, value any) {
	f.Update(func(p draft.Payload) { p[field] = value })
}

// SetTitle sets the title field.
func (f *Form) SetTitle(s string) { f.Set(draft.FieldTitle, s) }

// SetContent sets the body field.
func (f *Form) SetContent(s string) { f.Set(draft.FieldContent, s) }

// Update applies fn to the payload and notifies.
func (f *Form) Update(fn func(draft.Payload)) {
	f.mu.Lock()
	if f.payload == nil {
		f.payload = draft.Payload{}
	}
	fn(f.payload)
	snap, cb := f.payload.Clone(), f.onChange
	f.mu.Unlock()

	if cb != nil {
		cb(snap)
	}
}
