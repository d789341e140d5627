package stock

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"pharmanear/m/domain"
	"pharmanear/m/internal/medicines"
)

// PharmacyLookup resolves pharmacy ids to their records.
type PharmacyLookup interface {
	GetMany(ctx context.Context, ids []string) (map[string]domain.Pharmacy, error)
}

// StockistResult answers an availability search. Drug is nil when no
// medicine matched, in which case Message says so and Stocks is empty.
type StockistResult struct {
	Drug    *domain.Medicine  `json:"drug"`
	Stocks  []domain.Stockist `json:"stocks"`
	Message string            `json:"message,omitempty"`
}

// Availability answers "who stocks this medicine".
type Availability struct {
	db         *sqlx.DB
	medicines  MedicineResolver
	pharmacies PharmacyLookup
}

// NewAvailability constructs an Availability query.
func NewAvailability(db *sqlx.DB, meds MedicineResolver, pharmacies PharmacyLookup) *Availability {
	return &Availability{db: db, medicines: meds, pharmacies: pharmacies}
}

// FindStockists resolves name by case-insensitive substring and lists every
// pharmacy holding a positive quantity of the chosen medicine. A medicine
// whose name equals the query wins over longer matches; otherwise the first
// match by name is used.
func (a *Availability) FindStockists(ctx context.Context, name string) (StockistResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return StockistResult{}, domain.InvalidArgument("name", "drug name is required")
	}

	found, err := a.medicines.CollectContains(ctx, name)
	if err != nil {
		return StockistResult{}, err
	}
	if len(found) == 0 {
		return StockistResult{Stocks: []domain.Stockist{}, Message: "drug not found"}, nil
	}
	drug := pickDrug(found, name)

	var lines []struct {
		PharmacyID string `db:"pharmacy_id"`
		domain.StockLine
	}
	query := a.db.Rebind(`SELECT pharmacy_id, medicine_id, quantity, unit_price FROM stock_lines
        WHERE medicine_id = ? AND quantity > 0 ORDER BY pharmacy_id`)
	if err := a.db.SelectContext(ctx, &lines, query, drug.ID); err != nil {
		return StockistResult{}, domain.Internal("unable to search stock", err)
	}

	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.PharmacyID)
	}
	pharmacies, err := a.pharmacies.GetMany(ctx, ids)
	if err != nil {
		return StockistResult{}, err
	}

	result := StockistResult{Drug: &drug, Stocks: make([]domain.Stockist, 0, len(lines))}
	for _, l := range lines {
		s := domain.Stockist{PharmacyID: l.PharmacyID, Stock: l.StockLine}
		if p, ok := pharmacies[l.PharmacyID]; ok {
			pub := p.Public()
			s.Pharmacy = &pub
		}
		result.Stocks = append(result.Stocks, s)
	}
	return result, nil
}

func pickDrug(found []domain.Medicine, name string) domain.Medicine {
	canonical := medicines.Canonical(name)
	for _, m := range found {
		if m.CanonicalName == canonical {
			return m
		}
	}
	return found[0]
}
