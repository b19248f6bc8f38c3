package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginator(t *testing.T) {
	assert := assert.New(t)

	p := NewPaginator(10, 25)
	assert.Equal(3, p.NumPages)

	first := p.Page(1)
	assert.Equal(0, first.StartOffset)
	assert.False(first.HasPrevious)
	assert.True(first.HasNext)

	last := p.Page(3)
	assert.Equal(20, last.StartOffset)
	assert.True(last.HasPrevious)
	assert.False(last.HasNext)

	assert.Equal(1, p.Page(-4).Number)
	assert.Equal(DefaultPageSize, NewPaginator(0, 5).PageSize)
	assert.Equal(MaxPageSize, NewPaginator(1000, 5).PageSize)
	assert.Equal(0, NewPaginator(10, 0).NumPages)
}

func TestParams(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(1, PageNumber(""))
	assert.Equal(1, PageNumber("x"))
	assert.Equal(1, PageNumber("-2"))
	assert.Equal(4, PageNumber("4"))

	r := httptest.NewRequest("GET", "/?page_size=7&bad=x", nil)
	assert.Equal(7, QueryInt(r, "page_size", 20))
	assert.Equal(20, QueryInt(r, "bad", 20))
	assert.Equal(3, QueryInt(r, "missing", 3))

	router := chi.NewRouter()
	var got int
	router.Get("/n/{n}", func(w http.ResponseWriter, r *http.Request) {
		got = GetIntParam(r, "n", -1)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/n/12", nil))
	assert.Equal(12, got)
}

func TestJSONHelpers(t *testing.T) {
	rr := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rr, http.StatusCreated, map[string]int{"a": 1}))
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var v struct{ A int }
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"a": 2}`))
	require.NoError(t, DecodeJSON(r, &v))
	assert.Equal(t, 2, v.A)
}

type fakeApp struct {
	name string
	err  error
}

func (f fakeApp) Bind(chi.Router) {}
func (f fakeApp) Name() string { return f.name }
func (f fakeApp) Migrate() error { return f.err }

func TestMigrateAll(t *testing.T) {
	boom := errors.New("boom")
	err := MigrateAll(fakeApp{name: "ok"}, fakeApp{name: "drafts", err: boom})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "drafts")
	assert.NoError(t, MigrateAll(fakeApp{name: "ok"}))
}
