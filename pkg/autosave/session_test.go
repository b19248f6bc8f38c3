package autosave

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koinonia/draftsafe/draft"
	"github.com/koinonia/draftsafe/draft/drafttest"
	"github.com/koinonia/draftsafe/pkg/backup"
	"github.com/koinonia/draftsafe/pkg/recovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionHarness struct {
	store     *drafttest.MemStore
	backups   *backup.Store
	lifecycle *ManualLifecycle
	beacon    *fakeBeacon
}

func newSessionHarness() *sessionHarness {
	return &sessionHarness{
		store:     drafttest.NewMemStore(),
		backups:   newBackups(),
		lifecycle: &ManualLifecycle{},
		beacon:    &fakeBeacon{},
	}
}

func (h *sessionHarness) open(t *testing.T, post string, form *Form) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		OwnerID:    "ana",
		LinkedPost: post,
		Store:      h.store,
		Backup:     h.backups,
		Editor:     form,
		Lifecycle:  h.lifecycle,
		Beacon:     h.beacon,
		Debounce:   testDebounce,
		Timeout:    time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	form.OnChange(func(p draft.Payload) { s.Schedule(p) })
	return s
}

func TestSessionSavesAndCloses(t *testing.T) {
	assert := assert.New(t)
	h := newSessionHarness()
	form := NewForm(nil)
	s := h.open(t, "p1", form)

	assert.Equal(recovery.None, s.Decision().Kind)
	assert.Equal(StatusIdle, s.Status().Kind)
	assert.Equal(1, h.lifecycle.Registered())

	form.SetTitle("Title")
	form.SetContent("Body")
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(StatusSaved, s.Status().Kind)

	got, err := h.store.Find(context.Background(), "ana", "p1")
	require.NoError(t, err)
	assert.Equal("Body", got.Payload.Content())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(0, h.lifecycle.Registered())
	assert.ErrorIs(s.Schedule(content("late")), ErrClosed)
}

func TestSecondSessionNegotiates(t *testing.T) {
	assert := assert.New(t)
	h := newSessionHarness()

	first := NewForm(nil)
	s1 := h.open(t, "", first)
	first.SetContent("unsynced work")
	require.NoError(t, s1.Flush(context.Background()))
	require.NoError(t, s1.Close())

	// a second "new post" session must not silently spawn a draft
	second := NewForm(nil)
	s2 := h.open(t, "", second)
	dec := s2.Decision()
	require.Equal(t, recovery.Restorable, dec.Kind)
	assert.Equal(recovery.Remote, dec.Source)
	assert.True(s2.RecoveryPending())
	assert.ErrorIs(s2.Schedule(content("x")), ErrRecoveryPending)
	assert.Equal(0, h.lifecycle.Registered(), "guard waits for the decision")

	require.NoError(t, s2.Resolve(context.Background(), recovery.Restore))
	assert.Equal(1, h.lifecycle.Registered())
	assert.Equal("unsynced work", second.GetSnapshot().Content())
	assert.ErrorIs(s2.Resolve(context.Background(), recovery.Restore), ErrNoRecovery)

	second.SetContent("unsynced work, continued")
	require.NoError(t, s2.Flush(context.Background()))
	assert.Equal(1, h.store.Len())
	id, _ := s2.DraftID()
	assert.Equal(dec.Existing.ID, id)
}

func TestSessionDiscard(t *testing.T) {
	assert := assert.New(t)
	h := newSessionHarness()
	h.store.Put(&draft.Draft{ID: "old", OwnerID: "ana", LinkedPost: "p1", Payload: content("stale"), LastAutosaveAt: draft.Now()})
	_, err := h.backups.Write(backup.Snapshot{OwnerID: "ana", DraftID: "old", LinkedPost: "p1", Payload: content("stale local"), CapturedAt: draft.Now().Add(time.Minute)})
	require.NoError(t, err)

	form := NewForm(nil)
	s := h.open(t, "p1", form)
	require.Equal(t, recovery.Local, s.Decision().Source)

	require.NoError(t, s.Resolve(context.Background(), recovery.Discard))
	assert.Equal(0, h.store.Len())
	assert.Empty(h.backups.ListAll("ana"))
	assert.True(form.GetSnapshot().IsEmpty())

	form.SetContent("fresh start")
	require.NoError(t, s.Flush(context.Background()))
	id, ok := s.DraftID()
	assert.True(ok)
	assert.NotEqual("old", id)
}

func TestSessionSaveForLater(t *testing.T) {
	assert := assert.New(t)
	h := newSessionHarness()
	h.store.Put(&draft.Draft{ID: "d1", OwnerID: "ana", Payload: content("keep me"), LastAutosaveAt: draft.Now()})

	form := NewForm(nil)
	s := h.open(t, "", form)
	require.Equal(t, recovery.Restorable, s.Decision().Kind)

	require.NoError(t, s.Resolve(context.Background(), recovery.SaveForLater))
	assert.ErrorIs(s.Schedule(content("x")), ErrClosed)
	assert.True(form.GetSnapshot().IsEmpty())
	assert.Equal(1, h.store.Len())
	assert.Empty(h.store.Writes())

	// teardown after leaving must not overwrite the kept draft
	h.lifecycle.Teardown()
	assert.Empty(h.beacon.sent())
}

func TestRestoreLocalSnapshotResaves(t *testing.T) {
	assert := assert.New(t)
	h := newSessionHarness()
	_, err := h.backups.Write(backup.Snapshot{OwnerID: "ana", LinkedPost: "p7", Payload: content("written offline")})
	require.NoError(t, err)

	form := NewForm(nil)
	s := h.open(t, "p7", form)
	require.Equal(t, recovery.Local, s.Decision().Source)
	assert.Contains(s.Decision().Diff, "+written offline")

	require.NoError(t, s.Resolve(context.Background(), recovery.Restore))
	require.NoError(t, s.Flush(context.Background()))
	got, err := h.store.Find(context.Background(), "ana", "p7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal("written offline", got.Payload.Content())
	assert.Empty(h.backups.ListAll("ana"))
}

func TestSessionOfflineScenario(t *testing.T) {
	assert := assert.New(t)
	h := newSessionHarness()
	form := NewForm(nil)
	s := h.open(t, "", form)

	var mu sync.Mutex
	var seen []StatusKind
	s.Subscribe(func(st Status) {
		mu.Lock()
		seen = append(seen, st.Kind)
		mu.Unlock()
	})

	s.SetOnline(false)
	for i := 0; i < 12; i++ {
		form.SetContent(fmt.Sprintf("offline %d", i))
		assert.ErrorIs(s.Flush(context.Background()), draft.ErrOffline)
		assert.Equal(StatusOffline, s.Status().Kind)
	}
	assert.Len(h.backups.ListAll("ana"), backup.DefaultCap)
	assert.Empty(h.store.Writes())

	mu.Lock()
	assert.Equal([]StatusKind{StatusOffline}, seen)
	mu.Unlock()

	// reconnecting retries the failed save
	s.SetOnline(true)
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(StatusSaved, s.Status().Kind)

	mu.Lock()
	assert.Equal([]StatusKind{StatusOffline, StatusIdle, StatusSaving, StatusSaved}, seen)
	mu.Unlock()

	got, err := h.store.Find(context.Background(), "ana", "")
	require.NoError(t, err)
	assert.Equal("offline 11", got.Payload.Content())
}

func TestOpenRequiresCollaborators(t *testing.T) {
	_, err := Open(context.Background(), Options{OwnerID: "ana"})
	assert.Error(t, err)
}
