// Package pharmacies manages pharmacy registration, credentials and
// profiles. A pharmacy's handle (user_name) is its login and its public
// reference; renaming it invalidates every session issued before.
package pharmacies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pharmanear/m/domain"
	"pharmanear/m/internal/migrations"
)

const pharmacyColumns = `id, user_name, owner_name, license_number, address, city, state, pincode,
    latitude, longitude, opening_hours, closing_hours, phone_number, location_url, password,
    session_epoch, created_at, updated_at`

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(s domain.Session) (string, error)
}

// CredentialHasher hashes and checks passwords.
type CredentialHasher interface {
	Hash(password string) (string, error)
	Matches(hash, password string) bool
}

// Registration is the signup payload.
type Registration struct {
	UserName      string   `json:"user_name" validate:"required"`
	OwnerName     string   `json:"owner_name" validate:"required"`
	City          string   `json:"city" validate:"required"`
	PhoneNumber   string   `json:"phone_number" validate:"required"`
	Password      string   `json:"password" validate:"required"`
	LicenseNumber string   `json:"license_number"`
	Address       string   `json:"address"`
	State         string   `json:"state"`
	Pincode       string   `json:"pincode"`
	Latitude      *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude     *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	OpeningHours  string   `json:"opening_hours"`
	ClosingHours  string   `json:"closing_hours"`
	LocationURL   string   `json:"location_url"`
}

// ProfileChanges lists the fields a pharmacy may edit. Nil means unchanged.
type ProfileChanges struct {
	LicenseNumber *string
	Address       *string
	City          *string
	State         *string
	Pincode       *string
	OpeningHours  *string
	ClosingHours  *string
	ContactNumber *string
	Latitude      *float64
	Longitude     *float64
	LocationURL   *string
}

// AuthResult is returned by Register and Authenticate.
type AuthResult struct {
	Token    string          `json:"token"`
	Pharmacy domain.Pharmacy `json:"pharmacy"`
}

// UpdateResult is returned by UpdateProfile. SessionInvalidated is set when
// the handle changed; callers must force the client to log in again.
type UpdateResult struct {
	Pharmacy           domain.Pharmacy `json:"pharmacy"`
	SessionInvalidated bool            `json:"session_invalidated"`
}

// Directory reads and writes the pharmacies table.
type Directory struct {
	db       *sqlx.DB
	hasher   CredentialHasher
	issuer   TokenIssuer
	validate *validator.Validate
	now      func() time.Time
}

// New constructs a Directory.
func New(db *sqlx.DB, hasher CredentialHasher, issuer TokenIssuer) *Directory {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Directory{db: db, hasher: hasher, issuer: issuer, validate: v, now: time.Now}
}

const maxPasswordBytes = 72

// Register creates a pharmacy and returns it with a fresh session token.
func (d *Directory) Register(ctx context.Context, reg Registration) (AuthResult, error) {
	reg.UserName = strings.TrimSpace(reg.UserName)
	reg.OwnerName = strings.TrimSpace(reg.OwnerName)
	reg.City = strings.TrimSpace(reg.City)
	reg.PhoneNumber = strings.TrimSpace(reg.PhoneNumber)
	if err := d.validate.StructCtx(ctx, reg); err != nil {
		return AuthResult{}, validationError(err)
	}
	// bcrypt only accepts passwords up to 72 bytes; the validator counts runes.
	if len(reg.Password) > maxPasswordBytes {
		return AuthResult{}, domain.InvalidArgument("password", "password must be at most 72 bytes")
	}

	taken, err := d.handleTaken(ctx, d.db, reg.UserName)
	if err != nil {
		return AuthResult{}, err
	}
	if taken {
		return AuthResult{}, domain.DuplicateHandle(reg.UserName)
	}

	hashed, err := d.hasher.Hash(reg.Password)
	if err != nil {
		return AuthResult{}, domain.Internal("unable to secure password", err)
	}

	now := d.timestamp()
	p := domain.Pharmacy{
		ID:            uuid.NewString(),
		UserName:      reg.UserName,
		OwnerName:     reg.OwnerName,
		LicenseNumber: reg.LicenseNumber,
		Address:       reg.Address,
		City:          reg.City,
		State:         reg.State,
		Pincode:       reg.Pincode,
		Latitude:      reg.Latitude,
		Longitude:     reg.Longitude,
		OpeningHours:  reg.OpeningHours,
		ClosingHours:  reg.ClosingHours,
		PhoneNumber:   reg.PhoneNumber,
		LocationURL:   reg.LocationURL,
		Password:      hashed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	insert := d.db.Rebind(`INSERT INTO pharmacies (id, user_name, owner_name, license_number, address, city, state, pincode,
        latitude, longitude, opening_hours, closing_hours, phone_number, location_url, password, session_epoch,
        schema_version, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = d.db.ExecContext(ctx, insert, p.ID, p.UserName, p.OwnerName, p.LicenseNumber, p.Address, p.City, p.State,
		p.Pincode, p.Latitude, p.Longitude, p.OpeningHours, p.ClosingHours, p.PhoneNumber, p.LocationURL, p.Password,
		p.SessionEpoch, migrations.SchemaVersion, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		// Lost a race with another signup for the same handle.
		if taken, lookupErr := d.handleTaken(ctx, d.db, p.UserName); lookupErr == nil && taken {
			return AuthResult{}, domain.DuplicateHandle(p.UserName)
		}
		return AuthResult{}, domain.Internal("unable to register pharmacy", err)
	}

	return d.withToken(p)
}

// Authenticate checks credentials and returns the pharmacy with a fresh
// session token.
func (d *Directory) Authenticate(ctx context.Context, handle, password string) (AuthResult, error) {
	if handle == "" || password == "" {
		return AuthResult{}, domain.InvalidArgument("user_name", "user_name and password are required")
	}
	p, err := d.GetByHandle(ctx, handle)
	if errors.Is(err, domain.ErrNotFound) {
		return AuthResult{}, &domain.Error{Kind: domain.KindNotRegistered, Message: "pharmacy is not registered"}
	}
	if err != nil {
		return AuthResult{}, err
	}
	if !d.hasher.Matches(p.Password, password) {
		return AuthResult{}, &domain.Error{Kind: domain.KindInvalidCredentials, Message: "password is incorrect"}
	}
	return d.withToken(p)
}

// GetProfile returns the caller's own profile.
func (d *Directory) GetProfile(ctx context.Context, session domain.Session, handle string) (domain.Pharmacy, error) {
	if handle == "" {
		return domain.Pharmacy{}, domain.InvalidArgument("user_name", "user_name is required")
	}
	if session.UserName != handle {
		return domain.Pharmacy{}, domain.Forbidden("access denied")
	}
	return d.GetByHandle(ctx, handle)
}

// GetPublicProfile returns the display-safe profile of a pharmacy.
func (d *Directory) GetPublicProfile(ctx context.Context, id string) (domain.PublicPharmacy, error) {
	if strings.TrimSpace(id) == "" {
		return domain.PublicPharmacy{}, domain.InvalidArgument("pharmacy_id", "pharmacy_id is required")
	}
	p, err := d.Get(ctx, id)
	if err != nil {
		return domain.PublicPharmacy{}, err
	}
	return p.Public(), nil
}

// UpdateProfile applies allow-listed changes to the caller's profile and,
// when newHandle differs from handle, renames the pharmacy.
func (d *Directory) UpdateProfile(ctx context.Context, session domain.Session, handle string, changes ProfileChanges, newHandle string) (UpdateResult, error) {
	if handle == "" {
		return UpdateResult{}, domain.InvalidArgument("user_name", "user_name is required")
	}
	if session.UserName != handle {
		return UpdateResult{}, domain.Forbidden("access denied")
	}
	newHandle = strings.TrimSpace(newHandle)
	if err := checkChanges(changes); err != nil {
		return UpdateResult{}, err
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return UpdateResult{}, domain.Internal("unable to start profile update", err)
	}
	defer tx.Rollback()

	current, err := d.getBy(ctx, tx, "user_name", handle)
	if err != nil {
		return UpdateResult{}, err
	}

	sets, args := changeSet(changes)
	renamed := newHandle != "" && newHandle != handle
	if renamed {
		taken, err := d.handleTaken(ctx, tx, newHandle)
		if err != nil {
			return UpdateResult{}, err
		}
		if taken {
			return UpdateResult{}, domain.DuplicateHandle(newHandle)
		}
		sets = append(sets, "user_name = ?", "session_epoch = session_epoch + 1")
		args = append(args, newHandle)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, d.timestamp(), current.ID)

	update := tx.Rebind(`UPDATE pharmacies SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		if renamed {
			if taken, lookupErr := d.handleTaken(ctx, tx, newHandle); lookupErr == nil && taken {
				return UpdateResult{}, domain.DuplicateHandle(newHandle)
			}
		}
		return UpdateResult{}, domain.Internal("unable to update pharmacy profile", err)
	}

	updated, err := d.getBy(ctx, tx, "id", current.ID)
	if err != nil {
		return UpdateResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpdateResult{}, domain.Internal("unable to save pharmacy profile", err)
	}
	return UpdateResult{Pharmacy: updated, SessionInvalidated: renamed}, nil
}

// VerifySession checks that a parsed token still describes the pharmacy: it
// must exist, and neither its handle nor its session epoch may have changed.
func (d *Directory) VerifySession(ctx context.Context, session domain.Session) (domain.Pharmacy, error) {
	p, err := d.Get(ctx, session.PharmacyID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Pharmacy{}, domain.Unauthorized("session is no longer valid")
	}
	if err != nil {
		return domain.Pharmacy{}, err
	}
	if p.UserName != session.UserName || p.SessionEpoch != session.Epoch {
		return domain.Pharmacy{}, domain.Unauthorized("session invalidated, please log in again")
	}
	return p, nil
}

// Get loads a pharmacy by id.
func (d *Directory) Get(ctx context.Context, id string) (domain.Pharmacy, error) {
	return d.getBy(ctx, d.db, "id", id)
}

// GetByHandle loads a pharmacy by its exact handle.
func (d *Directory) GetByHandle(ctx context.Context, handle string) (domain.Pharmacy, error) {
	return d.getBy(ctx, d.db, "user_name", handle)
}

// GetMany loads pharmacies by id, keyed by id.
func (d *Directory) GetMany(ctx context.Context, ids []string) (map[string]domain.Pharmacy, error) {
	out := make(map[string]domain.Pharmacy, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+pharmacyColumns+` FROM pharmacies WHERE id IN (?)`, ids)
	if err != nil {
		return nil, domain.Internal("unable to prepare pharmacy query", err)
	}
	var found []domain.Pharmacy
	if err := d.db.SelectContext(ctx, &found, d.db.Rebind(query), args...); err != nil {
		return nil, domain.Internal("unable to load pharmacies", err)
	}
	for _, p := range found {
		out[p.ID] = p
	}
	return out, nil
}

func (d *Directory) getBy(ctx context.Context, q sqlx.QueryerContext, column, value string) (domain.Pharmacy, error) {
	var p domain.Pharmacy
	query := sqlx.Rebind(sqlx.BindType(d.db.DriverName()), `SELECT `+pharmacyColumns+` FROM pharmacies WHERE `+column+` = ?`)
	err := sqlx.GetContext(ctx, q, &p, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Pharmacy{}, domain.NotFound("pharmacy not found")
	}
	if err != nil {
		return domain.Pharmacy{}, domain.Internal("unable to load pharmacy", err)
	}
	return p, nil
}

func (d *Directory) handleTaken(ctx context.Context, q sqlx.QueryerContext, handle string) (bool, error) {
	var n int
	query := sqlx.Rebind(sqlx.BindType(d.db.DriverName()), `SELECT COUNT(*) FROM pharmacies WHERE user_name = ?`)
	if err := sqlx.GetContext(ctx, q, &n, query, handle); err != nil {
		return false, domain.Internal("unable to check pharmacy name", err)
	}
	return n > 0, nil
}

func (d *Directory) withToken(p domain.Pharmacy) (AuthResult, error) {
	token, err := d.issuer.Issue(domain.Session{PharmacyID: p.ID, UserName: p.UserName, Epoch: p.SessionEpoch})
	if err != nil {
		return AuthResult{}, domain.Internal("unable to generate token", err)
	}
	return AuthResult{Token: token, Pharmacy: p}, nil
}

func (d *Directory) timestamp() string {
	return d.now().UTC().Format(time.RFC3339)
}

func checkChanges(c ProfileChanges) error {
	if c.City != nil && strings.TrimSpace(*c.City) == "" {
		return domain.InvalidArgument("city", "city cannot be empty")
	}
	if c.ContactNumber != nil && strings.TrimSpace(*c.ContactNumber) == "" {
		return domain.InvalidArgument("contact_number", "contact_number cannot be empty")
	}
	if c.Latitude != nil && (*c.Latitude < -90 || *c.Latitude > 90) {
		return domain.InvalidArgument("latitude", "latitude must be between -90 and 90")
	}
	if c.Longitude != nil && (*c.Longitude < -180 || *c.Longitude > 180) {
		return domain.InvalidArgument("longitude", "longitude must be between -180 and 180")
	}
	return nil
}

func changeSet(c ProfileChanges) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if c.LicenseNumber != nil {
		add("license_number", *c.LicenseNumber)
	}
	if c.Address != nil {
		add("address", *c.Address)
	}
	if c.City != nil {
		add("city", strings.TrimSpace(*c.City))
	}
	if c.State != nil {
		add("state", *c.State)
	}
	if c.Pincode != nil {
		add("pincode", *c.Pincode)
	}
	if c.OpeningHours != nil {
		add("opening_hours", *c.OpeningHours)
	}
	if c.ClosingHours != nil {
		add("closing_hours", *c.ClosingHours)
	}
	if c.ContactNumber != nil {
		add("phone_number", strings.TrimSpace(*c.ContactNumber))
	}
	if c.Latitude != nil {
		add("latitude", *c.Latitude)
	}
	if c.Longitude != nil {
		add("longitude", *c.Longitude)
	}
	if c.LocationURL != nil {
		add("location_url", *c.LocationURL)
	}
	return sets, args
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return domain.InvalidArgument(fe.Field(), fmt.Sprintf("%s is required", fe.Field()))
		default:
			return domain.InvalidArgument(fe.Field(), fmt.Sprintf("%s is out of range", fe.Field()))
		}
	}
	return domain.InvalidArgument("", "invalid entry")
}
