package draft

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/koinonia/draftsafe/db"
	dotel "github.com/koinonia/draftsafe/pkg/otel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultRetention is how long an untouched draft survives Cleanup.
const DefaultRetention = 30 * 24 * time.Hour

const draftColumns = `id, owner_id, linked_post, title, payload, version, last_autosave_at, created_at, updated_at`

// Service persists drafts in the database.  It implements Store.
type Service struct {
	db  db.DB
	log zerolog.Logger
	// test usage
	now func() time.Time
}

var _ Store = (*Service)(nil)

// NewService returns a draft service backed by database.
func NewService(database db.DB) *Service {
	return &Service{db: database, log: zerolog.Nop(), now: time.Now}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l zerolog.Logger) *Service {
	s.log = l
	return s
}

func (s *Service) stamp() time.Time {
	return Stamp(s.now())
}

func normalize(d *Draft) *Draft {
	d.LastAutosaveAt = Stamp(d.LastAutosaveAt)
	d.CreatedAt = Stamp(d.CreatedAt)
	d.UpdatedAt = Stamp(d.UpdatedAt)
	d.Status = StatusSynced
	if d.Payload == nil {
		d.Payload = Payload{}
	}
	return d
}

func getDraft(ctx context.Context, q db.Getter, where string, args ...any) (*Draft, error) {
	var d Draft
	err := q.GetContext(ctx, &d, `SELECT `+draftColumns+` FROM draft WHERE `+where, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return normalize(&d), nil
}

// Get a draft by its id.
func (s *Service) Get(ctx context.Context, id string) (*Draft, error) {
	return getDraft(ctx, s.db, `id=?`, id)
}

// Find the draft for owner and linkedPost.  Returns nil, nil if there is none.
func (s *Service) Find(ctx context.Context, ownerID, linkedPost string) (*Draft, error) {
	d, err := getDraft(ctx, s.db, `owner_id=? AND linked_post=?`, ownerID, linkedPost)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// Create implements Store.
func (s *Service) Create(ctx context.Context, ownerID, linkedPost string, payload Payload) (*Draft, error) {
	d, _, err := s.Upsert(ctx, ownerID, linkedPost, payload)
	return d, err
}

// Upsert creates the draft for (ownerID, linkedPost), or updates it if it
// already exists.  created reports which happened.
func (s *Service) Upsert(ctx context.Context, ownerID, linkedPost string, payload Payload) (d *Draft, created bool, err error) {
	ctx, span := dotel.Tracer().Start(ctx, "draft.Upsert")
	span.SetAttributes(attribute.String("draft.linked_post", linkedPost))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("draft.created", created))
		span.End()
	}()

	if len(ownerID) == 0 {
		return nil, false, ErrUnauthorized
	}
	if err := payload.Validate(); err != nil {
		return nil, false, err
	}

	err = db.With(s.db, func(tx *sqlx.Tx) error {
		existing, err := getDraft(ctx, tx, `owner_id=? AND linked_post=?`, ownerID, linkedPost)
		switch {
		case errors.Is(err, ErrNotFound):
			d, err = s.insert(ctx, tx, ownerID, linkedPost, payload)
			created = true
			return err
		case err != nil:
			return err
		}
		d, err = s.update(ctx, tx, existing, payload)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("upserting draft: %w", err)
	}
	return d, created, nil
}

func (s *Service) insert(ctx context.Context, tx *sqlx.Tx, ownerID, linkedPost string, payload Payload) (*Draft, error) {
	now := s.stamp()
	d := &Draft{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		LinkedPost:     linkedPost,
		Title:          payload.Title(),
		Payload:        payload.Clone(),
		Version:        1,
		LastAutosaveAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         StatusSynced,
	}
	q := `INSERT INTO draft (` + draftColumns + `) VALUES
	(:id, :owner_id, :linked_post, :title, :payload, :version, :last_autosave_at, :created_at, :updated_at);`
	if _, err := tx.NamedExecContext(ctx, q, d); err != nil {
		return nil, err
	}
	s.log.Debug().Str("draft", d.ID).Str("owner", ownerID).Str("post", linkedPost).Msg("draft created")
	return d, nil
}

// update applies payload to d.  An identical payload leaves the row alone.
func (s *Service) update(ctx context.Context, tx *sqlx.Tx, d *Draft, payload Payload) (*Draft, error) {
	if d.Payload.Equal(payload) {
		return d, nil
	}
	now := s.stamp()
	d.Payload = payload.Clone()
	d.Title = payload.Title()
	d.Version++
	d.LastAutosaveAt = now
	d.UpdatedAt = now

	q := `UPDATE draft SET title=:title, payload=:payload, version=:version,
		last_autosave_at=:last_autosave_at, updated_at=:updated_at
	WHERE id=:id`
	if _, err := tx.NamedExecContext(ctx, q, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Update implements Store.
func (s *Service) Update(ctx context.Context, id string, payload Payload) (*Draft, error) {
	ctx, span := dotel.Tracer().Start(ctx, "draft.Update")
	span.SetAttributes(attribute.String("draft.id", id))
	defer span.End()

	if err := payload.Validate(); err != nil {
		return nil, err
	}
	var d *Draft
	err := db.With(s.db, func(tx *sqlx.Tx) error {
		existing, err := getDraft(ctx, tx, `id=?`, id)
		if err != nil {
			return err
		}
		d, err = s.update(ctx, tx, existing, payload)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("updating draft %s: %w", id, err)
	}
	return d, nil
}

// Delete implements Store.
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM draft WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("deleting draft %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.  Drafts are ordered most recently updated first.
func (s *Service) List(ctx context.Context, ownerID string) ([]*Draft, error) {
	return s.selectDrafts(ctx, `WHERE owner_id=? ORDER BY updated_at DESC`, ownerID)
}

// ListPage returns at most limit of owner's drafts starting at offset.
func (s *Service) ListPage(ctx context.Context, ownerID string, offset, limit int) ([]*Draft, error) {
	return s.selectDrafts(ctx, `WHERE owner_id=? ORDER BY updated_at DESC LIMIT ? OFFSET ?`, ownerID, limit, offset)
}

// Count the drafts owned by ownerID.
func (s *Service) Count(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM draft WHERE owner_id=?`, ownerID)
	return n, err
}

func (s *Service) selectDrafts(ctx context.Context, where string, args ...any) ([]*Draft, error) {
	var drafts []*Draft
	if err := s.db.SelectContext(ctx, &drafts, `SELECT `+draftColumns+` FROM draft `+where, args...); err != nil {
		return nil, err
	}
	for _, d := range drafts {
		normalize(d)
	}
	return drafts, nil
}

// A SyncItem is one draft in a bulk sync request.
type SyncItem struct {
	LinkedPost string  `json:"linked_post"`
	Payload    Payload `json:"payload"`
}

// A SyncError reports a failed item of a bulk sync.
type SyncError struct {
	LinkedPost string `json:"linked_post"`
	Message    string `json:"message"`
}

// SyncResult is the outcome of a bulk sync.
type SyncResult struct {
	Synced []*Draft     `json:"synced"`
	Errors []SyncError `json:"errors"`
}

// Sync upserts every item for ownerID.  A failing item does not stop the
// others.
func (s *Service) Sync(ctx context.Context, ownerID string, items []SyncItem) SyncResult {
	ctx, span := dotel.Tracer().Start(ctx, "draft.Sync")
	span.SetAttributes(attribute.Int("draft.items", len(items)))
	defer span.End()

	res := SyncResult{Synced: []*Draft{}, Errors: []SyncError{}}
	for _, it := range items {
		d, _, err := s.Upsert(ctx, ownerID, it.LinkedPost, it.Payload)
		if err != nil {
			var ve *ValidationError
			msg := err.Error()
			if errors.As(err, &ve) {
				msg = ve.Message
			}
			res.Errors = append(res.Errors, SyncError{LinkedPost: it.LinkedPost, Message: msg})
			continue
		}
		res.Synced = append(res.Synced, d)
	}
	return res
}

// Cleanup deletes drafts that have not been updated within maxAge, and
// returns how many were removed.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.stamp().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `DELETE FROM draft WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning up drafts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("draft cleanup")
	return n, nil
}
