package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Medicine is a reference catalog entry. CanonicalName is the case-folded
// Name and is unique across the catalog.
type Medicine struct {
	ID            string     `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	CanonicalName string     `db:"canonical_name" json:"-"`
	Strengths     StringList `db:"strengths" json:"strengths"`
	Routes        StringList `db:"routes" json:"routes"`
	CreatedAt     string     `db:"created_at" json:"created_at,omitempty"`
}

// HasStrength reports whether s is already listed for the medicine.
func (m Medicine) HasStrength(s string) bool {
	for _, existing := range m.Strengths {
		if existing == s {
			return true
		}
	}
	return false
}

// StringList is an ordered list of strings persisted as a JSON array.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported string list source %T", src)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}
