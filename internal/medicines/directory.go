// Package medicines is the medicine reference directory: exact and partial
// name lookups, find-or-create for medicines reported by pharmacies, and the
// bulk replace used by the catalog loader.
package medicines

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/text/cases"

	"pharmanear/m/domain"
	"pharmanear/m/internal/migrations"
)

const medicineColumns = `id, name, canonical_name, strengths, routes, created_at`

// Canonical folds a medicine name for case-insensitive identity.
func Canonical(name string) string {
	// A Caser keeps state between calls, so build one per call.
	return cases.Fold().String(strings.TrimSpace(name))
}

// Directory reads and writes the medicines table.
type Directory struct {
	db  *sqlx.DB
	now func() time.Time
}

// New constructs a Directory.
func New(db *sqlx.DB) *Directory {
	return &Directory{db: db, now: time.Now}
}

// FindByExactName returns every medicine whose canonical name equals the
// folded name. More than one result means the catalog holds duplicates.
func (d *Directory) FindByExactName(ctx context.Context, name string) ([]domain.Medicine, error) {
	canonical := Canonical(name)
	if canonical == "" {
		return nil, domain.InvalidArgument("medicine_name", "medicine name is required")
	}
	var found []domain.Medicine
	query := d.db.Rebind(`SELECT ` + medicineColumns + ` FROM medicines WHERE canonical_name = ?`)
	if err := d.db.SelectContext(ctx, &found, query, canonical); err != nil {
		return nil, domain.Internal("unable to look up medicine", err)
	}
	return found, nil
}

// SearchByNameContains streams medicines whose name contains fragment,
// ignoring case. Rows are read as the sequence is consumed, and the cursor
// holds a connection until iteration stops; with SQLite that is the only
// connection, so drain the sequence before issuing other queries.
func (d *Directory) SearchByNameContains(ctx context.Context, fragment string) (iter.Seq2[domain.Medicine, error], error) {
	canonical := Canonical(fragment)
	if canonical == "" {
		return nil, domain.InvalidArgument("name", "search fragment is required")
	}
	query := d.db.Rebind(`SELECT ` + medicineColumns + ` FROM medicines WHERE canonical_name LIKE ? ESCAPE '\' ORDER BY name`)
	pattern := "%" + escapeLike(canonical) + "%"

	return func(yield func(domain.Medicine, error) bool) {
		rows, err := d.db.QueryxContext(ctx, query, pattern)
		if err != nil {
			yield(domain.Medicine{}, domain.Internal("unable to search medicines", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			var m domain.Medicine
			if err := rows.StructScan(&m); err != nil {
				yield(domain.Medicine{}, domain.Internal("unable to read medicine", err))
				return
			}
			if !yield(m, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Medicine{}, domain.Internal("unable to search medicines", err))
		}
	}, nil
}

// CollectContains drains SearchByNameContains into a slice.
func (d *Directory) CollectContains(ctx context.Context, fragment string) ([]domain.Medicine, error) {
	seq, err := d.SearchByNameContains(ctx, fragment)
	if err != nil {
		return nil, err
	}
	var out []domain.Medicine
	for m, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// FindOrCreate returns the medicine named name, creating it when absent.
// The unique canonical_name index makes concurrent creators converge on one
// row. A strength hint missing from an existing record is appended.
func (d *Directory) FindOrCreate(ctx context.Context, name, strengthHint string) (domain.Medicine, error) {
	name = strings.TrimSpace(name)
	canonical := Canonical(name)
	if canonical == "" {
		return domain.Medicine{}, domain.InvalidArgument("medicine_name", "medicine name is required")
	}
	strengthHint = strings.TrimSpace(strengthHint)

	strengths := domain.StringList{}
	if strengthHint != "" {
		strengths = domain.StringList{strengthHint}
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Medicine{}, domain.Internal("unable to start medicine transaction", err)
	}
	defer tx.Rollback()

	insert := tx.Rebind(`INSERT INTO medicines (id, name, canonical_name, strengths, routes, schema_version, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT (canonical_name) DO NOTHING`)
	res, err := tx.ExecContext(ctx, insert, uuid.NewString(), name, canonical, strengths, domain.StringList{}, migrations.SchemaVersion, d.timestamp())
	if err != nil {
		return domain.Medicine{}, domain.Internal("unable to create medicine", err)
	}
	created, _ := res.RowsAffected()

	var m domain.Medicine
	query := tx.Rebind(`SELECT ` + medicineColumns + ` FROM medicines WHERE canonical_name = ?`)
	if err := tx.GetContext(ctx, &m, query, canonical); err != nil {
		return domain.Medicine{}, domain.Internal("unable to read medicine", err)
	}

	if created == 0 && strengthHint != "" && !m.HasStrength(strengthHint) {
		m.Strengths = append(m.Strengths, strengthHint)
		update := tx.Rebind(`UPDATE medicines SET strengths = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, update, m.Strengths, m.ID); err != nil {
			return domain.Medicine{}, domain.Internal("unable to update medicine strengths", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Medicine{}, domain.Internal("unable to save medicine", err)
	}
	return m, nil
}

// Get loads a medicine by id.
func (d *Directory) Get(ctx context.Context, id string) (domain.Medicine, error) {
	var m domain.Medicine
	query := d.db.Rebind(`SELECT ` + medicineColumns + ` FROM medicines WHERE id = ?`)
	err := d.db.GetContext(ctx, &m, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Medicine{}, domain.NotFound("medicine not found")
	}
	if err != nil {
		return domain.Medicine{}, domain.Internal("unable to load medicine", err)
	}
	return m, nil
}

// GetMany loads the medicines with the given ids, keyed by id. Unknown ids
// are absent from the result.
func (d *Directory) GetMany(ctx context.Context, ids []string) (map[string]domain.Medicine, error) {
	out := make(map[string]domain.Medicine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+medicineColumns+` FROM medicines WHERE id IN (?)`, ids)
	if err != nil {
		return nil, domain.Internal("unable to prepare medicine query", err)
	}
	var found []domain.Medicine
	if err := d.db.SelectContext(ctx, &found, d.db.Rebind(query), args...); err != nil {
		return nil, domain.Internal("unable to load medicines", err)
	}
	for _, m := range found {
		out[m.ID] = m
	}
	return out, nil
}

// Count returns the catalog size.
func (d *Directory) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM medicines`); err != nil {
		return 0, domain.Internal("unable to count medicines", err)
	}
	return n, nil
}

// Replace swaps the whole catalog for entries in one transaction. Entries
// must already be unique by canonical name. Medicines whose canonical name
// survives keep their id so existing stock lines stay resolvable.
func (d *Directory) Replace(ctx context.Context, entries []domain.Medicine) (int, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, domain.Internal("unable to start catalog transaction", err)
	}
	defer tx.Rollback()

	var existing []struct {
		ID            string `db:"id"`
		CanonicalName string `db:"canonical_name"`
	}
	if err := tx.SelectContext(ctx, &existing, `SELECT id, canonical_name FROM medicines`); err != nil {
		return 0, domain.Internal("unable to read current catalog", err)
	}
	ids := make(map[string]string, len(existing))
	for _, e := range existing {
		ids[e.CanonicalName] = e.ID
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM medicines`); err != nil {
		return 0, domain.Internal("unable to clear catalog", err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO medicines (id, name, canonical_name, strengths, routes, schema_version, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, domain.Internal("unable to prepare catalog insert", err)
	}
	defer stmt.Close()

	now := d.timestamp()
	inserted := 0
	for _, m := range entries {
		canonical := Canonical(m.Name)
		if canonical == "" {
			continue
		}
		id, ok := ids[canonical]
		if !ok {
			id = uuid.NewString()
		}
		strengths := m.Strengths
		if strengths == nil {
			strengths = domain.StringList{}
		}
		routes := m.Routes
		if routes == nil {
			routes = domain.StringList{}
		}
		if _, err := stmt.ExecContext(ctx, id, strings.TrimSpace(m.Name), canonical, strengths, routes, migrations.SchemaVersion, now); err != nil {
			return 0, domain.Internal("unable to insert medicine "+m.Name, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.Internal("unable to commit catalog", err)
	}
	return inserted, nil
}

func (d *Directory) timestamp() string {
	return d.now().UTC().Format(time.RFC3339)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
