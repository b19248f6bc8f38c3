package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koinonia/draftsafe/draft"
	"github.com/koinonia/draftsafe/draft/drafttest"
	"github.com/koinonia/draftsafe/pkg/backup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func setup() (*drafttest.MemStore, *backup.Store, *Negotiator) {
	store := drafttest.NewMemStore()
	backups := backup.NewStore(backup.NewMemoryStorage(0))
	return store, backups, NewNegotiator(store, backups)
}

func TestNothingToRecover(t *testing.T) {
	_, _, n := setup()
	dec, err := n.Reconcile(context.Background(), "ana", "", draft.Payload{})
	require.NoError(t, err)
	assert.Equal(t, None, dec.Kind)
	assert.Nil(t, dec.Existing)
}

func TestRemoteDraftIsRestorable(t *testing.T) {
	assert := assert.New(t)
	store, _, n := setup()
	store.Put(&draft.Draft{ID: "d1", OwnerID: "ana", Payload: draft.NewPayload("Plan", "Hello"), LastAutosaveAt: t0})

	// a second "new post" session finds the first one's draft
	dec, err := n.Reconcile(context.Background(), "ana", "", draft.Payload{})
	require.NoError(t, err)
	assert.Equal(Restorable, dec.Kind)
	assert.Equal(Remote, dec.Source)
	assert.Equal("Hello", dec.Payload.Content())
	assert.True(dec.CapturedAt.Equal(t0))
	require.NotNil(t, dec.Existing)
	assert.Equal("d1", dec.Existing.ID)
	assert.Contains(dec.Diff, "+Hello")

	// other owners' drafts are not offered
	dec, err = n.Reconcile(context.Background(), "ben", "", draft.Payload{})
	require.NoError(t, err)
	assert.Equal(None, dec.Kind)
}

func TestEmptyRemoteDraftResumes(t *testing.T) {
	store, _, n := setup()
	store.Put(&draft.Draft{ID: "d1", OwnerID: "ana", LinkedPost: "p1", Payload: draft.Payload{}, LastAutosaveAt: t0})

	dec, err := n.Reconcile(context.Background(), "ana", "p1", draft.Payload{})
	require.NoError(t, err)
	assert.Equal(t, None, dec.Kind)
	require.NotNil(t, dec.Existing)
	assert.Equal(t, "d1", dec.Existing.ID)
}

func TestNewerLocalSnapshotWins(t *testing.T) {
	assert := assert.New(t)
	store, backups, n := setup()
	store.Put(&draft.Draft{ID: "d1", OwnerID: "ana", LinkedPost: "p1", Payload: draft.NewPayload("t", "remote"), LastAutosaveAt: t0})

	_, err := backups.Write(backup.Snapshot{OwnerID: "ana", DraftID: "d1", LinkedPost: "p1", Payload: draft.NewPayload("t", "older"), CapturedAt: t0.Add(-time.Minute)})
	require.NoError(t, err)
	_, err = backups.Write(backup.Snapshot{OwnerID: "ana", DraftID: "d1", LinkedPost: "p1", Payload: draft.NewPayload("t", "newer"), CapturedAt: t0.Add(time.Minute)})
	require.NoError(t, err)

	dec, err := n.Reconcile(context.Background(), "ana", "p1", draft.Payload{})
	require.NoError(t, err)
	assert.Equal(Restorable, dec.Kind)
	assert.Equal(Local, dec.Source)
	assert.Equal("newer", dec.Payload.Content())
	require.NotNil(t, dec.Snapshot)
	assert.True(dec.Snapshot.CapturedAt.Equal(t0.Add(time.Minute)))
	assert.Equal("d1", dec.Existing.ID)
}

func TestTieGoesToRemote(t *testing.T) {
	assert := assert.New(t)
	store, backups, n := setup()
	store.Put(&draft.Draft{ID: "d1", OwnerID: "ana", Payload: draft.NewPayload("t", "remote"), LastAutosaveAt: t0})

	// one taken against the draft, one before it had an id
	for _, id := range []string{"d1", ""} {
		_, err := backups.Write(backup.Snapshot{OwnerID: "ana", DraftID: id, Payload: draft.NewPayload("t", "local "+id), CapturedAt: t0})
		require.NoError(t, err)
	}
	require.Len(t, backups.ListAll("ana"), 2)

	dec, err := n.Reconcile(context.Background(), "ana", "", draft.Payload{})
	require.NoError(t, err)
	assert.Equal(Restorable, dec.Kind)
	assert.Equal(Remote, dec.Source)
	assert.Equal("remote", dec.Payload.Content())
	assert.Nil(dec.Snapshot)
}

func TestLocalOnly(t *testing.T) {
	assert := assert.New(t)
	_, backups, n := setup()

	_, err := backups.Write(backup.Snapshot{OwnerID: "ana", LinkedPost: "p2", Payload: draft.NewPayload("", "typed offline"), CapturedAt: t0})
	require.NoError(t, err)
	// empty snapshots are not worth offering
	_, err = backups.Write(backup.Snapshot{OwnerID: "ana", LinkedPost: "p2", Payload: draft.Payload{}, CapturedAt: t0.Add(time.Second)})
	require.NoError(t, err)

	dec, err := n.Reconcile(context.Background(), "ana", "p2", draft.Payload{})
	require.NoError(t, err)
	assert.Equal(Restorable, dec.Kind)
	assert.Equal(Local, dec.Source)
	assert.Equal("typed offline", dec.Payload.Content())
	assert.Nil(dec.Existing)
}

func TestMatchingCurrentFormOffersNothing(t *testing.T) {
	store, _, n := setup()
	p := draft.NewPayload("same", "same")
	store.Put(&draft.Draft{ID: "d1", OwnerID: "ana", Payload: p, LastAutosaveAt: t0})

	dec, err := n.Reconcile(context.Background(), "ana", "", p.Clone())
	require.NoError(t, err)
	assert.Equal(t, None, dec.Kind)
	assert.NotNil(t, dec.Existing)
}

func TestRemoteFailures(t *testing.T) {
	store, backups, n := setup()
	_, err := backups.Write(backup.Snapshot{OwnerID: "ana", Payload: draft.NewPayload("", "local"), CapturedAt: t0})
	require.NoError(t, err)

	store.SetFail(func(string) error { return draft.Transient("find", errors.New("connection refused")) })
	dec, err := n.Reconcile(context.Background(), "ana", "", draft.Payload{})
	require.NoError(t, err)
	assert.Equal(t, Local, dec.Source)
	assert.Error(t, dec.RemoteErr)

	store.SetFail(func(string) error { return draft.ErrUnauthorized })
	_, err = n.Reconcile(context.Background(), "ana", "", draft.Payload{})
	assert.ErrorIs(t, err, draft.ErrUnauthorized)
}

func TestParseResolution(t *testing.T) {
	for _, r := range []Resolution{Restore, Discard, SaveForLater} {
		got, err := ParseResolution(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseResolution("maybe")
	assert.Error(t, err)
}
