package domain

// Session is the pharmacy identity carried by a bearer token.
type Session struct {
	PharmacyID string `json:"id"`
	UserName   string `json:"user_name"`
	Epoch      int64  `json:"epoch"`
}
