package draft

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/koinonia/draftsafe/db/monarch"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, monarch.UpgradeAll(db, Migrations()))
	return db
}

// a clock that advances a millisecond every time it is read
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Millisecond)
		return cur
	}
}

func newTestService(t *testing.T) *Service {
	s := NewService(setupTestDB(t))
	s.now = tickingClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	return s
}

func TestMigrationsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, monarch.UpgradeAll(db, Migrations()))
	require.NoError(t, monarch.UpgradeAll(db, Migrations()))
}

func TestCreateAndGet(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestService(t)

	d, err := s.Create(ctx, "u1", "", NewPayload("Hello", "Body"))
	require.NoError(t, err)
	assert.NotEmpty(d.ID)
	assert.Equal("Hello", d.Title)
	assert.Equal(1, d.Version)
	assert.Equal(StatusSynced, d.Status)
	assert.True(d.IsNew())

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(d.ID, got.ID)
	assert.True(d.Payload.Equal(got.Payload))
	assert.True(d.LastAutosaveAt.Equal(got.LastAutosaveAt))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(err, ErrNotFound)
}

func TestCreateIsUpsert(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestService(t)

	a, created, err := s.Upsert(ctx, "u1", "post-1", NewPayload("a", ""))
	require.NoError(t, err)
	assert.True(created)

	b, created, err := s.Upsert(ctx, "u1", "post-1", NewPayload("b", ""))
	require.NoError(t, err)
	assert.False(created)
	assert.Equal(a.ID, b.ID)
	assert.Equal(2, b.Version)

	// other owner, other post: separate drafts
	c, err := s.Create(ctx, "u2", "post-1", NewPayload("c", ""))
	require.NoError(t, err)
	assert.NotEqual(a.ID, c.ID)
	_, err = s.Create(ctx, "u1", "", NewPayload("d", ""))
	require.NoError(t, err)

	n, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(2, n)

	_, err = s.Create(ctx, "", "", NewPayload("x", ""))
	assert.ErrorIs(err, ErrUnauthorized)
}

func TestUpdateIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestService(t)

	d, err := s.Create(ctx, "u1", "", NewPayload("t", "c"))
	require.NoError(t, err)

	same, err := s.Update(ctx, d.ID, NewPayload("t", "c"))
	require.NoError(t, err)
	assert.Equal(d.Version, same.Version)
	assert.True(d.LastAutosaveAt.Equal(same.LastAutosaveAt))

	changed, err := s.Update(ctx, d.ID, NewPayload("t", "c2"))
	require.NoError(t, err)
	assert.Equal(d.Version+1, changed.Version)
	assert.True(changed.LastAutosaveAt.After(d.LastAutosaveAt))

	_, err = s.Update(ctx, "missing", NewPayload("t", "c"))
	assert.ErrorIs(err, ErrNotFound)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.Create(ctx, "u1", "", NewPayload(strings.Repeat("x", MaxTitleLength+1), ""))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.False(t, IsTransient(err))

	// empty payloads are still saved
	d, err := s.Create(ctx, "u1", "", Payload{})
	require.NoError(t, err)
	assert.True(t, d.Payload.IsEmpty())
}

func TestFindListDelete(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestService(t)

	none, err := s.Find(ctx, "u1", "")
	assert.NoError(err)
	assert.Nil(none)

	first, err := s.Create(ctx, "u1", "p1", NewPayload("one", ""))
	require.NoError(t, err)
	second, err := s.Create(ctx, "u1", "p2", NewPayload("two", ""))
	require.NoError(t, err)

	found, err := s.Find(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Equal(first.ID, found.ID)

	list, err := s.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(second.ID, list[0].ID, "most recently updated first")

	page, err := s.ListPage(ctx, "u1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(first.ID, page[0].ID)

	assert.NoError(s.Delete(ctx, first.ID))
	assert.ErrorIs(s.Delete(ctx, first.ID), ErrNotFound)
	list, err = s.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(list, 1)
}

func TestSync(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestService(t)

	res := s.Sync(ctx, "u1", []SyncItem{
		{LinkedPost: "", Payload: NewPayload("new", "")},
		{LinkedPost: "p1", Payload: NewPayload("p1", "")},
		{LinkedPost: "p2", Payload: NewPayload(strings.Repeat("x", 300), "")},
	})
	assert.Len(res.Synced, 2)
	require.Len(t, res.Errors, 1)
	assert.Equal("p2", res.Errors[0].LinkedPost)
	assert.Contains(res.Errors[0].Message, "at most")

	// a second sync updates rather than duplicates
	res = s.Sync(ctx, "u1", []SyncItem{{LinkedPost: "p1", Payload: NewPayload("p1 again", "")}})
	assert.Len(res.Synced, 1)
	n, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(2, n)
}

func TestCleanup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := newTestService(t)

	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }
	_, err := s.Create(ctx, "u1", "old", NewPayload("old", ""))
	require.NoError(t, err)

	s.now = func() time.Time { return old.Add(40 * 24 * time.Hour) }
	_, err = s.Create(ctx, "u1", "fresh", NewPayload("fresh", ""))
	require.NoError(t, err)

	n, err := s.Cleanup(ctx, DefaultRetention)
	require.NoError(t, err)
	assert.EqualValues(1, n)

	gone, err := s.Find(ctx, "u1", "old")
	assert.NoError(err)
	assert.Nil(gone)
}
