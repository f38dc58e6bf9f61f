package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/petar554/podshot/internal/region"
	"github.com/petar554/podshot/internal/template"
)

// StoreError wraps a storage-layer failure. Callers may retry the
// operation; no partial template is ever left behind.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("template store %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// Temporary marks storage failures as retryable.
func (e *StoreError) Temporary() bool { return true }

// TemplateStore implements template.Store on PostgreSQL.
type TemplateStore struct {
	db *DB
}

// NewTemplateStore wraps db as a template store.
func NewTemplateStore(db *DB) *TemplateStore {
	return &TemplateStore{db: db}
}

var _ template.Store = (*TemplateStore)(nil)

type templateRow struct {
	ID        int64
	Name      string
	Hash      *string
	Features  []byte
	CreatedAt time.Time
}

type regionRow struct {
	TemplateID int64
	Name       string
	Box        region.Box
}

// FindByHash returns the template stored under hash, or nil.
func (s *TemplateStore) FindByHash(ctx context.Context, hash string) (*template.Template, error) {
	if hash == "" {
		return nil, nil
	}
	return s.findOne(ctx, "find", `
		SELECT id, name, hash, features, created_at
		FROM podcast_templates WHERE hash = $1
	`, hash)
}

// Get returns the template with id, or nil.
func (s *TemplateStore) Get(ctx context.Context, id int64) (*template.Template, error) {
	return s.findOne(ctx, "get", `
		SELECT id, name, hash, features, created_at
		FROM podcast_templates WHERE id = $1
	`, id)
}

func (s *TemplateStore) findOne(ctx context.Context, op, query string, arg any) (*template.Template, error) {
	var row templateRow
	err := s.db.Pool.QueryRow(ctx, query, arg).Scan(&row.ID, &row.Name, &row.Hash, &row.Features, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}

	regions, err := s.regionsFor(ctx, []int64{row.ID})
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	ts, err := assembleTemplates([]templateRow{row}, regions)
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	return &ts[0], nil
}

// Insert stores a template and its regions in one transaction. When the
// hash already exists the existing template is returned and nothing is
// written, which is what makes concurrent discovery of the same layout
// safe without locking.
func (s *TemplateStore) Insert(ctx context.Context, n template.NewTemplate) (*template.Template, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	features, err := json.Marshal(n.Features)
	if err != nil {
		return nil, fmt.Errorf("marshal features: %w", err)
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, &StoreError{Op: "insert", Err: err}
	}
	defer tx.Rollback(ctx)

	var id int64
	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO podcast_templates (name, hash, features)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING
		RETURNING id, created_at
	`, n.Name, nullableHash(n.Hash), features).Scan(&id, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race or re-inserting a known hash: return the winner.
		tx.Rollback(ctx)
		existing, findErr := s.FindByHash(ctx, n.Hash)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, &StoreError{Op: "insert", Err: fmt.Errorf("hash %s conflicted but no row found", n.Hash)}
		}
		return existing, nil
	}
	if err != nil {
		return nil, &StoreError{Op: "insert", Err: err}
	}

	batch := &pgx.Batch{}
	for name, box := range n.Regions {
		batch.Queue(`
			INSERT INTO template_regions (template_id, region_name, top, left_pos, width, height)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, name, box.Top, box.Left, box.Width, box.Height)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, &StoreError{Op: "insert regions", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &StoreError{Op: "commit", Err: err}
	}

	s.db.log.Info().Int64("template_id", id).Str("name", n.Name).Int("regions", len(n.Regions)).Msg("template stored")

	t := template.Template{
		ID:        id,
		Name:      n.Name,
		Hash:      n.Hash,
		Features:  n.Features,
		Regions:   n.Regions,
		CreatedAt: createdAt,
	}.Clone()
	return &t, nil
}

// List returns every template in creation order.
func (s *TemplateStore) List(ctx context.Context) ([]template.Template, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, name, hash, features, created_at
		FROM podcast_templates
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var trs []templateRow
	var ids []int64
	for rows.Next() {
		var r templateRow
		if err := rows.Scan(&r.ID, &r.Name, &r.Hash, &r.Features, &r.CreatedAt); err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		trs = append(trs, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	if len(trs) == 0 {
		return nil, nil
	}

	regions, err := s.regionsFor(ctx, ids)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	ts, err := assembleTemplates(trs, regions)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return ts, nil
}

func (s *TemplateStore) regionsFor(ctx context.Context, ids []int64) ([]regionRow, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT template_id, region_name, top, left_pos, width, height
		FROM template_regions
		WHERE template_id = ANY($1)
		ORDER BY template_id, region_name
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []regionRow
	for rows.Next() {
		var r regionRow
		if err := rows.Scan(&r.TemplateID, &r.Name, &r.Box.Top, &r.Box.Left, &r.Box.Width, &r.Box.Height); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// assembleTemplates joins template rows with their region rows, keeping
// the template order.
func assembleTemplates(trs []templateRow, regions []regionRow) ([]template.Template, error) {
	byID := make(map[int64]map[string]region.Box, len(trs))
	for _, r := range regions {
		m, ok := byID[r.TemplateID]
		if !ok {
			m = make(map[string]region.Box)
			byID[r.TemplateID] = m
		}
		m[r.Name] = r.Box
	}

	out := make([]template.Template, 0, len(trs))
	for _, tr := range trs {
		t := template.Template{ID: tr.ID, Name: tr.Name, CreatedAt: tr.CreatedAt, Regions: byID[tr.ID]}
		if tr.Hash != nil {
			t.Hash = *tr.Hash
		}
		if t.Regions == nil {
			t.Regions = map[string]region.Box{}
		}
		if len(tr.Features) > 0 {
			if err := json.Unmarshal(tr.Features, &t.Features); err != nil {
				return nil, fmt.Errorf("template %d features: %w", tr.ID, err)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func nullableHash(h string) *string {
	if h == "" {
		return nil
	}
	return &h
}
