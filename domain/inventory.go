package domain

// StockLine is one medication entry in a pharmacy's ledger.
type StockLine struct {
	MedicineID string  `db:"medicine_id" json:"medicine_id"`
	Quantity   int64   `db:"quantity" json:"quantity"`
	UnitPrice  float64 `db:"unit_price" json:"price"`
}

// StockLedger is the per-pharmacy stock document. Medications never holds two
// lines for the same medicine.
type StockLedger struct {
	PharmacyID  string      `db:"pharmacy_id" json:"pharmacy_id"`
	Version     int64       `db:"version" json:"version"`
	Medications []StockLine `db:"-" json:"medications"`
	CreatedAt   string      `db:"created_at" json:"created_at"`
	UpdatedAt   string      `db:"updated_at" json:"updated_at"`
}

// IndexOf returns the position of the line for medicineID, or -1.
func (l *StockLedger) IndexOf(medicineID string) int {
	for i, line := range l.Medications {
		if line.MedicineID == medicineID {
			return i
		}
	}
	return -1
}

// LedgerLineView is a ledger line joined to its medicine for display.
type LedgerLineView struct {
	StockLine
	Medicine *Medicine `json:"medicine,omitempty"`
}

// LedgerView is a ledger with every line resolved to its medicine.
type LedgerView struct {
	PharmacyID  string           `json:"pharmacy_id"`
	Version     int64            `json:"version"`
	Medications []LedgerLineView `json:"medications"`
	UpdatedAt   string           `json:"updated_at"`
}

// Stockist is one pharmacy holding a searched medicine.
type Stockist struct {
	PharmacyID string          `json:"pharmacy_id"`
	Pharmacy   *PublicPharmacy `json:"pharmacy,omitempty"`
	Stock      StockLine       `json:"stock"`
}
