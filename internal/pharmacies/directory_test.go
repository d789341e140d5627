package pharmacies

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"pharmanear/m/domain"
	"pharmanear/m/internal/auth"
	"pharmanear/m/internal/dbtest"
)

func newDirectory(t *testing.T) (*Directory, *auth.Issuer) {
	t.Helper()
	issuer := auth.NewIssuer("test-secret", time.Hour)
	return New(dbtest.Open(t), auth.Hasher{Cost: bcrypt.MinCost}, issuer), issuer
}

func acme() Registration {
	return Registration{
		UserName:    "acme",
		OwnerName:   "Ada Owner",
		City:        "Pune",
		PhoneNumber: "555-0100",
		Password:    "hunter2",
	}
}

func strPtr(s string) *string      { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestRegister(t *testing.T) {
	dir, issuer := newDirectory(t)

	res, err := dir.Register(context.Background(), acme())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Pharmacy.ID)
	assert.Equal(t, "acme", res.Pharmacy.UserName)
	assert.NotEqual(t, "hunter2", res.Pharmacy.Password)

	session, err := issuer.Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.Session{PharmacyID: res.Pharmacy.ID, UserName: "acme"}, session)
}

func TestRegisterRequiresFields(t *testing.T) {
	dir, _ := newDirectory(t)

	reg := acme()
	reg.City = "  "
	_, err := dir.Register(context.Background(), reg)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "city", de.Field)

	reg = acme()
	reg.Latitude = floatPtr(123)
	_, err = dir.Register(context.Background(), reg)
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "latitude", de.Field)
}

func TestRegisterRejectsOverlongPassword(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)

	reg := acme()
	reg.Password = strings.Repeat("x", 80)
	_, err := dir.Register(ctx, reg)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "password", de.Field)

	// 36 two-byte runes fill the limit exactly.
	reg.Password = strings.Repeat("é", 36)
	_, err = dir.Register(ctx, reg)
	require.NoError(t, err)

	reg.UserName = "acme2"
	reg.Password = strings.Repeat("é", 37)
	_, err = dir.Register(ctx, reg)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = dir.GetByHandle(ctx, "acme2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterDuplicateHandleLeavesExisting(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	first, err := dir.Register(ctx, acme())
	require.NoError(t, err)

	dup := acme()
	dup.OwnerName = "Someone Else"
	dup.Password = "other"
	_, err = dir.Register(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateHandle)

	stored, err := dir.GetByHandle(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, first.Pharmacy, stored)
}

func TestRegisterHandleIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	_, err := dir.Register(ctx, acme())
	require.NoError(t, err)

	upper := acme()
	upper.UserName = "ACME"
	_, err = dir.Register(ctx, upper)
	assert.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	reg, err := dir.Register(ctx, acme())
	require.NoError(t, err)

	res, err := dir.Authenticate(ctx, "acme", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, reg.Pharmacy.ID, res.Pharmacy.ID)
	assert.NotEmpty(t, res.Token)

	_, err = dir.Authenticate(ctx, "acme", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = dir.Authenticate(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, domain.ErrNotRegistered)

	_, err = dir.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetProfileRequiresOwnSession(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	reg, err := dir.Register(ctx, acme())
	require.NoError(t, err)
	session := domain.Session{PharmacyID: reg.Pharmacy.ID, UserName: "acme"}

	p, err := dir.GetProfile(ctx, session, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Ada Owner", p.OwnerName)

	_, err = dir.GetProfile(ctx, session, "other")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = dir.GetProfile(ctx, session, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetPublicProfile(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	reg := acme()
	reg.Address = "1 Main St"
	reg.Latitude = floatPtr(18.52)
	reg.Longitude = floatPtr(73.85)
	res, err := dir.Register(ctx, reg)
	require.NoError(t, err)

	pub, err := dir.GetPublicProfile(ctx, res.Pharmacy.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", pub.UserName)
	assert.Equal(t, "1 Main St", pub.Address)
	require.NotNil(t, pub.Latitude)
	assert.InDelta(t, 18.52, *pub.Latitude, 1e-9)

	_, err = dir.GetPublicProfile(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = dir.GetPublicProfile(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateProfileAppliesAllowListedFields(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	reg, err := dir.Register(ctx, acme())
	require.NoError(t, err)
	session := domain.Session{PharmacyID: reg.Pharmacy.ID, UserName: "acme"}

	res, err := dir.UpdateProfile(ctx, session, "acme", ProfileChanges{
		Address:       strPtr("2 High St"),
		OpeningHours:  strPtr("09:00"),
		ClosingHours:  strPtr("21:00"),
		ContactNumber: strPtr("555-0199"),
		Latitude:      floatPtr(12.5),
		LocationURL:   strPtr("https://maps.example/acme"),
	}, "")
	require.NoError(t, err)
	assert.False(t, res.SessionInvalidated)
	assert.Equal(t, "2 High St", res.Pharmacy.Address)
	assert.Equal(t, "555-0199", res.Pharmacy.PhoneNumber)
	assert.Equal(t, "https://maps.example/acme", res.Pharmacy.LocationURL)
	assert.Equal(t, "Pune", res.Pharmacy.City)
	assert.Equal(t, "Ada Owner", res.Pharmacy.OwnerName)

	_, err = dir.VerifySession(ctx, session)
	assert.NoError(t, err)
}

func TestUpdateProfileValidation(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	reg, err := dir.Register(ctx, acme())
	require.NoError(t, err)
	session := domain.Session{PharmacyID: reg.Pharmacy.ID, UserName: "acme"}

	_, err = dir.UpdateProfile(ctx, session, "acme", ProfileChanges{City: strPtr("")}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = dir.UpdateProfile(ctx, session, "acme", ProfileChanges{Longitude: floatPtr(200)}, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = dir.UpdateProfile(ctx, session, "someone", ProfileChanges{}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRenameInvalidatesSessions(t *testing.T) {
	ctx := context.Background()
	dir, issuer := newDirectory(t)
	reg, err := dir.Register(ctx, acme())
	require.NoError(t, err)
	oldSession, err := issuer.Parse(reg.Token)
	require.NoError(t, err)

	res, err := dir.UpdateProfile(ctx, oldSession, "acme", ProfileChanges{}, "acme-pharmacy")
	require.NoError(t, err)
	assert.True(t, res.SessionInvalidated)
	assert.Equal(t, "acme-pharmacy", res.Pharmacy.UserName)
	assert.Equal(t, int64(1), res.Pharmacy.SessionEpoch)

	_, err = dir.VerifySession(ctx, oldSession)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	login, err := dir.Authenticate(ctx, "acme-pharmacy", "hunter2")
	require.NoError(t, err)
	fresh, err := issuer.Parse(login.Token)
	require.NoError(t, err)
	_, err = dir.VerifySession(ctx, fresh)
	assert.NoError(t, err)

	_, err = dir.Authenticate(ctx, "acme", "hunter2")
	assert.ErrorIs(t, err, domain.ErrNotRegistered)
}

func TestRenameToTakenHandle(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	reg, err := dir.Register(ctx, acme())
	require.NoError(t, err)
	other := acme()
	other.UserName = "zenith"
	_, err = dir.Register(ctx, other)
	require.NoError(t, err)

	session := domain.Session{PharmacyID: reg.Pharmacy.ID, UserName: "acme"}
	_, err = dir.UpdateProfile(ctx, session, "acme", ProfileChanges{Address: strPtr("changed")}, "zenith")
	assert.ErrorIs(t, err, domain.ErrDuplicateHandle)

	stored, err := dir.GetByHandle(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, stored.Address)

	// Renaming to the current handle is a plain update.
	res, err := dir.UpdateProfile(ctx, session, "acme", ProfileChanges{}, "acme")
	require.NoError(t, err)
	assert.False(t, res.SessionInvalidated)
}

func TestGetMany(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory(t)
	a, err := dir.Register(ctx, acme())
	require.NoError(t, err)

	found, err := dir.GetMany(ctx, []string{a.Pharmacy.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, "acme", found[a.Pharmacy.ID].UserName)
}
