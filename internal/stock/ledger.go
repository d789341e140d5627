// Package stock holds each pharmacy's stock ledger and answers which
// pharmacies stock a given medicine.
//
// A ledger is one header row (stock_ledgers) plus its ordered lines
// (stock_lines). Every mutation reads the whole ledger, changes it in memory
// and writes it back in one transaction guarded by the header version, so
// concurrent writers to the same pharmacy retry instead of losing updates.
package stock

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"pharmanear/m/domain"
	"pharmanear/m/internal/medicines"
	"pharmanear/m/internal/migrations"
)

const defaultMaxAttempts = 3

var errVersionConflict = errors.New("stock ledger changed concurrently")

// MedicineResolver is the slice of the medicine directory the ledger needs.
type MedicineResolver interface {
	FindByExactName(ctx context.Context, name string) ([]domain.Medicine, error)
	FindOrCreate(ctx context.Context, name, strengthHint string) (domain.Medicine, error)
	CollectContains(ctx context.Context, fragment string) ([]domain.Medicine, error)
	GetMany(ctx context.Context, ids []string) (map[string]domain.Medicine, error)
}

// Ledger implements the stock ledger operations.
type Ledger struct {
	db          *sqlx.DB
	medicines   MedicineResolver
	maxAttempts int
	now         func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(db *sqlx.DB, meds MedicineResolver) *Ledger {
	return &Ledger{db: db, medicines: meds, maxAttempts: defaultMaxAttempts, now: time.Now}
}

// UpsertLine adds quantityDelta units of medicineName to the pharmacy's
// ledger. An existing line accumulates quantity and takes the new price;
// otherwise a line is appended, creating the ledger and the medicine record
// as needed.
func (l *Ledger) UpsertLine(ctx context.Context, pharmacyID, medicineName string, quantityDelta int64, unitPrice float64, strengthHint string) (domain.StockLedger, error) {
	pharmacyID = strings.TrimSpace(pharmacyID)
	medicineName = strings.TrimSpace(medicineName)
	if pharmacyID == "" {
		return domain.StockLedger{}, domain.InvalidArgument("pharmacy_id", "pharmacy ID is required")
	}
	if medicineName == "" {
		return domain.StockLedger{}, domain.InvalidArgument("medicine_name", "medicine name is required")
	}
	if quantityDelta <= 0 {
		return domain.StockLedger{}, domain.InvalidArgument("quantity", "valid quantity is required")
	}
	if !validPrice(unitPrice) {
		return domain.StockLedger{}, domain.InvalidArgument("price", "valid price is required")
	}

	matches, err := l.medicines.FindByExactName(ctx, medicineName)
	if err != nil {
		return domain.StockLedger{}, err
	}
	if len(matches) > 1 {
		return domain.StockLedger{}, domain.AmbiguousMedicine(medicineName, len(matches))
	}
	medicine, err := l.medicines.FindOrCreate(ctx, medicineName, strengthHint)
	if err != nil {
		return domain.StockLedger{}, err
	}

	return l.mutate(ctx, pharmacyID, true, func(ledger *domain.StockLedger) error {
		if i := ledger.IndexOf(medicine.ID); i >= 0 {
			if quantityDelta > math.MaxInt64-ledger.Medications[i].Quantity {
				return domain.InvalidArgument("quantity", "quantity is too large")
			}
			ledger.Medications[i].Quantity += quantityDelta
			ledger.Medications[i].UnitPrice = unitPrice
			return nil
		}
		ledger.Medications = append(ledger.Medications, domain.StockLine{
			MedicineID: medicine.ID,
			Quantity:   quantityDelta,
			UnitPrice:  unitPrice,
		})
		return nil
	})
}

// CorrectLine sets the quantity and price of an existing line. The medicine
// is matched by case-insensitive substring, unlike UpsertLine.
func (l *Ledger) CorrectLine(ctx context.Context, pharmacyID, medicineName string, quantity int64, unitPrice float64) (domain.StockLedger, error) {
	pharmacyID = strings.TrimSpace(pharmacyID)
	medicineName = strings.TrimSpace(medicineName)
	if pharmacyID == "" {
		return domain.StockLedger{}, domain.InvalidArgument("pharmacy_id", "pharmacy ID is required")
	}
	if medicineName == "" {
		return domain.StockLedger{}, domain.InvalidArgument("medicine_name", "medicine name is required")
	}
	if quantity < 0 {
		return domain.StockLedger{}, domain.InvalidArgument("quantity", "quantity cannot be negative")
	}
	if !validPrice(unitPrice) {
		return domain.StockLedger{}, domain.InvalidArgument("price", "valid price is required")
	}

	candidates, err := l.candidates(ctx, medicineName)
	if err != nil {
		return domain.StockLedger{}, err
	}
	return l.mutate(ctx, pharmacyID, false, func(ledger *domain.StockLedger) error {
		i := matchLine(ledger, candidates, medicineName)
		if i < 0 {
			return domain.NotFound("medication not found in stock")
		}
		ledger.Medications[i].Quantity = quantity
		ledger.Medications[i].UnitPrice = unitPrice
		return nil
	})
}

// RemoveLine deletes one line from the ledger. The ledger itself is kept
// even when it becomes empty.
func (l *Ledger) RemoveLine(ctx context.Context, pharmacyID, medicineName string) (domain.StockLedger, error) {
	pharmacyID = strings.TrimSpace(pharmacyID)
	medicineName = strings.TrimSpace(medicineName)
	if pharmacyID == "" {
		return domain.StockLedger{}, domain.InvalidArgument("pharmacy_id", "pharmacy ID is required")
	}
	if medicineName == "" {
		return domain.StockLedger{}, domain.InvalidArgument("medicine_name", "medicine name is required")
	}

	candidates, err := l.candidates(ctx, medicineName)
	if err != nil {
		return domain.StockLedger{}, err
	}
	return l.mutate(ctx, pharmacyID, false, func(ledger *domain.StockLedger) error {
		i := matchLine(ledger, candidates, medicineName)
		if i < 0 {
			return domain.NotFound("medication not found in stock")
		}
		ledger.Medications = append(ledger.Medications[:i], ledger.Medications[i+1:]...)
		return nil
	})
}

// GetLedger returns the pharmacy's ledger with each line joined to its
// medicine. Lines whose medicine no longer exists carry a nil Medicine.
func (l *Ledger) GetLedger(ctx context.Context, pharmacyID string) (domain.LedgerView, error) {
	pharmacyID = strings.TrimSpace(pharmacyID)
	if pharmacyID == "" {
		return domain.LedgerView{}, domain.InvalidArgument("pharmacy_id", "pharmacy ID is required")
	}
	ledger, found, err := l.load(ctx, l.db, pharmacyID)
	if err != nil {
		return domain.LedgerView{}, err
	}
	if !found {
		return domain.LedgerView{}, domain.NotFound("no stock found")
	}

	ids := make([]string, 0, len(ledger.Medications))
	for _, line := range ledger.Medications {
		ids = append(ids, line.MedicineID)
	}
	meds, err := l.medicines.GetMany(ctx, ids)
	if err != nil {
		return domain.LedgerView{}, err
	}

	view := domain.LedgerView{
		PharmacyID:  ledger.PharmacyID,
		Version:     ledger.Version,
		Medications: make([]domain.LedgerLineView, 0, len(ledger.Medications)),
		UpdatedAt:   ledger.UpdatedAt,
	}
	for _, line := range ledger.Medications {
		lv := domain.LedgerLineView{StockLine: line}
		if m, ok := meds[line.MedicineID]; ok {
			lv.Medicine = &m
		}
		view.Medications = append(view.Medications, lv)
	}
	return view, nil
}

// candidates may be empty: a line whose medicine was dropped by a catalog
// reload is still addressable by its medicine_id.
func (l *Ledger) candidates(ctx context.Context, medicineName string) ([]domain.Medicine, error) {
	return l.medicines.CollectContains(ctx, medicineName)
}

// matchLine picks the ledger line for a lookup: a line whose medicine has
// exactly the requested name wins, then a line whose medicine_id equals it,
// otherwise the first line in ledger order whose medicine matched.
func matchLine(ledger *domain.StockLedger, candidates []domain.Medicine, name string) int {
	canonical := medicines.Canonical(name)
	ids := make(map[string]bool, len(candidates))
	for _, m := range candidates {
		ids[m.ID] = true
		if m.CanonicalName == canonical {
			if i := ledger.IndexOf(m.ID); i >= 0 {
				return i
			}
		}
	}
	if i := ledger.IndexOf(name); i >= 0 {
		return i
	}
	for i, line := range ledger.Medications {
		if ids[line.MedicineID] {
			return i
		}
	}
	return -1
}

// mutate runs change against the current ledger and persists the result.
// When create is false a missing ledger is NotFound.
func (l *Ledger) mutate(ctx context.Context, pharmacyID string, create bool, change func(*domain.StockLedger) error) (domain.StockLedger, error) {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		ledger, err := l.tryMutate(ctx, pharmacyID, create, change)
		if errors.Is(err, errVersionConflict) {
			log.Ctx(ctx).Debug().Str("pharmacy_id", pharmacyID).Int("attempt", attempt).Msg("stock ledger version conflict, retrying")
			continue
		}
		return ledger, err
	}
	return domain.StockLedger{}, domain.Internal("stock ledger is busy, please retry", errVersionConflict)
}

func (l *Ledger) tryMutate(ctx context.Context, pharmacyID string, create bool, change func(*domain.StockLedger) error) (domain.StockLedger, error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.StockLedger{}, domain.Internal("unable to start stock transaction", err)
	}
	defer tx.Rollback()

	ledger, found, err := l.load(ctx, tx, pharmacyID)
	if err != nil {
		return domain.StockLedger{}, err
	}
	if !found {
		if !create {
			return domain.StockLedger{}, domain.NotFound("stock not found")
		}
		ledger = domain.StockLedger{PharmacyID: pharmacyID, Medications: []domain.StockLine{}}
	}

	if err := change(&ledger); err != nil {
		return domain.StockLedger{}, err
	}

	now := l.timestamp()
	if !found {
		insert := tx.Rebind(`INSERT INTO stock_ledgers (pharmacy_id, version, schema_version, created_at, updated_at)
            VALUES (?, 1, ?, ?, ?) ON CONFLICT (pharmacy_id) DO NOTHING`)
		res, err := tx.ExecContext(ctx, insert, pharmacyID, migrations.SchemaVersion, now, now)
		if err != nil {
			return domain.StockLedger{}, domain.Internal("unable to create stock", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.StockLedger{}, errVersionConflict
		}
		ledger.Version = 1
		ledger.CreatedAt = now
	} else {
		update := tx.Rebind(`UPDATE stock_ledgers SET version = version + 1, updated_at = ? WHERE pharmacy_id = ? AND version = ?`)
		res, err := tx.ExecContext(ctx, update, now, pharmacyID, ledger.Version)
		if err != nil {
			return domain.StockLedger{}, domain.Internal("unable to update stock", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.StockLedger{}, errVersionConflict
		}
		ledger.Version++
	}
	ledger.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM stock_lines WHERE pharmacy_id = ?`), pharmacyID); err != nil {
		return domain.StockLedger{}, domain.Internal("unable to rewrite stock lines", err)
	}
	if len(ledger.Medications) > 0 {
		stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO stock_lines (pharmacy_id, position, medicine_id, quantity, unit_price) VALUES (?, ?, ?, ?, ?)`))
		if err != nil {
			return domain.StockLedger{}, domain.Internal("unable to prepare stock lines", err)
		}
		defer stmt.Close()
		for i, line := range ledger.Medications {
			if _, err := stmt.ExecContext(ctx, pharmacyID, i, line.MedicineID, line.Quantity, line.UnitPrice); err != nil {
				return domain.StockLedger{}, domain.Internal("unable to save stock line", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.StockLedger{}, domain.Internal("unable to save stock", err)
	}
	return ledger, nil
}

func (l *Ledger) load(ctx context.Context, q sqlx.QueryerContext, pharmacyID string) (domain.StockLedger, bool, error) {
	bind := sqlx.BindType(l.db.DriverName())

	var ledger domain.StockLedger
	header := sqlx.Rebind(bind, `SELECT pharmacy_id, version, created_at, updated_at FROM stock_ledgers WHERE pharmacy_id = ?`)
	err := sqlx.GetContext(ctx, q, &ledger, header, pharmacyID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockLedger{}, false, nil
	}
	if err != nil {
		return domain.StockLedger{}, false, domain.Internal("unable to load stock", err)
	}

	lines := sqlx.Rebind(bind, `SELECT medicine_id, quantity, unit_price FROM stock_lines WHERE pharmacy_id = ? ORDER BY position`)
	ledger.Medications = []domain.StockLine{}
	if err := sqlx.SelectContext(ctx, q, &ledger.Medications, lines, pharmacyID); err != nil {
		return domain.StockLedger{}, false, domain.Internal("unable to load stock lines", err)
	}
	return ledger, true, nil
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(time.RFC3339)
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
