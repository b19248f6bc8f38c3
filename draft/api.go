package draft

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/koinonia/draftsafe/app"
	"github.com/koinonia/draftsafe/auth"
	"github.com/koinonia/draftsafe/db"
	"github.com/koinonia/draftsafe/db/monarch"
	"github.com/koinonia/draftsafe/pkg/errmodel"
	"github.com/rs/zerolog"
)

// BasePath is where the draft API is mounted.
const BasePath = "/api/drafts"

// previewLength is the number of characters of content shown in listings.
const previewLength = 140

const maxBeaconBody = 4 << 20

// API serves drafts over HTTP to authenticated users.
type API struct {
	db       db.DB
	Service  *Service
	sessions *auth.SessionManager
	log      zerolog.Logger
}

// NewAPI returns the draft api backed by conn.
func NewAPI(conn db.DB, sessions *auth.SessionManager) *API {
	return &API{
		db:       conn,
		Service:  NewService(conn),
		sessions: sessions,
		log:      zerolog.Nop(),
	}
}

// WithLogger sets the api and service logger.
func (a *API) WithLogger(l zerolog.Logger) *API {
	a.log = l
	a.Service.WithLogger(l)
	return a
}

func (a *API) Name() string { return "drafts" }

func (a *API) Migrate() error {
	return monarch.UpgradeAll(a.db, Migrations())
}

func (a *API) Bind(r chi.Router) {
	r.Route(BasePath, func(r chi.Router) {
		r.Use(a.sessions.RequireUser)
		r.Get("/", a.list)
		r.Post("/", a.create)
		r.Get("/check", a.check)
		r.Post("/beacon", a.beacon)
		r.Post("/sync", a.sync)
		r.Get("/{id}", a.get)
		r.Put("/{id}", a.update)
		r.Delete("/{id}", a.delete)
		r.Get("/{id}/preview", a.preview)
	})
}

func owner(r *http.Request) string {
	o, _ := auth.Owner(r.Context())
	return o
}

// writeError maps draft errors onto the error envelope.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		errmodel.WriteHTTP(w, r, errmodel.New(errmodel.CategoryValidation, "invalid_payload", ve.Message,
			map[string]any{"field": ve.Field}))
	case errors.Is(err, ErrNotFound):
		errmodel.WriteHTTP(w, r, errmodel.NotFound(ErrNotFound.Error()))
	case errors.Is(err, ErrUnauthorized):
		errmodel.WriteHTTP(w, r, errmodel.Unauthorized(err.Error()))
	default:
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("draft api")
		errmodel.WriteHTTP(w, r, errmodel.System(errmodel.CodeInternal, "internal error"))
	}
}

// logWrite records a failure to write a response body; the status line
// has already gone out, so the client cannot be told.
func (a *API) logWrite(r *http.Request, err error) {
	if err != nil {
		a.log.Warn().Err(err).Str("path", r.URL.Path).Msg("writing response")
	}
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	a.logWrite(r, app.WriteJSON(w, status, v))
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	errmodel.WriteHTTP(w, r, errmodel.Validation("bad_request", err.Error()))
}

// owned loads the draft named in the url, hiding drafts of other owners.
func (a *API) owned(r *http.Request) (*Draft, error) {
	d, err := a.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if d.OwnerID != owner(r) {
		return nil, ErrNotFound
	}
	return d, nil
}

func (a *API) list(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, who := r.Context(), owner(r)

	total, err := a.Service.Count(ctx, who)
	if err != nil {
		observe("list", start, err)
		a.writeError(w, r, err)
		return
	}
	pg := app.NewPaginator(app.QueryInt(r, "page_size", app.DefaultPageSize), total)
	page := pg.Page(app.PageNumber(r.URL.Query().Get("page")))

	drafts, err := a.Service.ListPage(ctx, who, page.StartOffset, pg.PageSize)
	observe("list", start, err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := ListResponse{Drafts: make([]ListItem, 0, len(drafts)), Page: page}
	for _, d := range drafts {
		resp.Drafts = append(resp.Drafts, ListItem{Draft: d, Preview: d.Payload.Preview(previewLength)})
	}
	a.writeJSON(w, r, http.StatusOK, resp)
}

func (a *API) create(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req CreateRequest
	if err := app.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	d, created, err := a.Service.Upsert(r.Context(), owner(r), req.LinkedPost, req.Payload)
	observe("create", start, err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	a.writeJSON(w, r, status, d)
}

func (a *API) check(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d, err := a.Service.Find(r.Context(), owner(r), r.URL.Query().Get("post"))
	if err == nil && d == nil {
		err = ErrNotFound
	}
	observe("check", start, err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, d)
}

func (a *API) get(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d, err := a.owned(r)
	observe("get", start, err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, d)
}

func (a *API) update(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req UpdateRequest
	if err := app.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	d, err := a.owned(r)
	if err == nil {
		d, err = a.Service.Update(r.Context(), d.ID, req.Payload)
	}
	observe("update", start, err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, d)
}

func (a *API) delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	d, err := a.owned(r)
	if err == nil {
		err = a.Service.Delete(r.Context(), d.ID)
	}
	observe("delete", start, err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) preview(w http.ResponseWriter, r *http.Request) {
	d, err := a.owned(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err = w.Write(RenderPreview(d.Payload))
	a.logWrite(r, err)
}

// beaconBody returns the request body, decompressing gzip bodies.
func beaconBody(r *http.Request) (io.ReadCloser, error) {
	body := http.MaxBytesReader(nil, r.Body, maxBeaconBody)
	if !strings.EqualFold(r.Header.Get("Content-Encoding"), "gzip") {
		return body, nil
	}
	zr, err := gzip.NewReader(body)
	if err != nil {
		return nil, err
	}
	return zr, nil
}

// beacon takes the last known payload of a session being torn down.  The
// client never reads the response.
func (a *API) beacon(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := beaconBody(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxBeaconBody))
	if err != nil {
		badRequest(w, r, err)
		return
	}
	beaconBytes.Observe(float64(len(raw)))

	var req BeaconRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	err = a.applyBeacon(r.Context(), owner(r), req)
	observe("beacon", start, err)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyBeacon updates the named draft, or upserts by linked post when the
// draft is unknown or not the caller's.
func (a *API) applyBeacon(ctx context.Context, who string, req BeaconRequest) error {
	if len(req.DraftID) > 0 {
		d, err := a.Service.Get(ctx, req.DraftID)
		if err == nil && d.OwnerID == who {
			_, err = a.Service.Update(ctx, d.ID, req.Payload)
			return err
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	_, _, err := a.Service.Upsert(ctx, who, req.LinkedPost, req.Payload)
	return err
}

func (a *API) sync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SyncRequest
	if err := app.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res := a.Service.Sync(r.Context(), owner(r), req.Drafts)
	observe("sync", start, nil)
	a.writeJSON(w, r, http.StatusOK, res)
}
