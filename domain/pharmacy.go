package domain

// Pharmacy is a registered pharmacy profile. UserName is the handle used to
// log in; it is unique and compared case-sensitively.
type Pharmacy struct {
	ID            string   `db:"id" json:"id"`
	UserName      string   `db:"user_name" json:"user_name"`
	OwnerName     string   `db:"owner_name" json:"owner_name"`
	LicenseNumber string   `db:"license_number" json:"license_number"`
	Address       string   `db:"address" json:"address"`
	City          string   `db:"city" json:"city"`
	State         string   `db:"state" json:"state"`
	Pincode       string   `db:"pincode" json:"pincode"`
	Latitude      *float64 `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64 `db:"longitude" json:"longitude,omitempty"`
	OpeningHours  string   `db:"opening_hours" json:"opening_hours"`
	ClosingHours  string   `db:"closing_hours" json:"closing_hours"`
	PhoneNumber   string   `db:"phone_number" json:"phone_number"`
	LocationURL   string   `db:"location_url" json:"location_url"`
	Password      string   `db:"password" json:"-"`
	SessionEpoch  int64    `db:"session_epoch" json:"-"`
	CreatedAt     string   `db:"created_at" json:"created_at"`
	UpdatedAt     string   `db:"updated_at" json:"updated_at"`
}

// PublicPharmacy is the display-safe subset shown on the map.
type PublicPharmacy struct {
	ID           string   `json:"_id"`
	UserName     string   `json:"user_name"`
	Address      string   `json:"address"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	Pincode      string   `json:"pincode"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	OpeningHours string   `json:"opening_hours"`
	ClosingHours string   `json:"closing_hours"`
	PhoneNumber  string   `json:"phone_number"`
	LocationURL  string   `json:"location_url,omitempty"`
}

// Public strips everything that is not meant for anonymous callers.
func (p Pharmacy) Public() PublicPharmacy {
	return PublicPharmacy{
		ID:           p.ID,
		UserName:     p.UserName,
		Address:      p.Address,
		City:         p.City,
		State:        p.State,
		Pincode:      p.Pincode,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		OpeningHours: p.OpeningHours,
		ClosingHours: p.ClosingHours,
		PhoneNumber:  p.PhoneNumber,
		LocationURL:  p.LocationURL,
	}
}
