// Package auth issues and verifies pharmacy session tokens and hashes
// credentials.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pharmanear/m/domain"
)

type sessionClaims struct {
	PharmacyID string `json:"id"`
	UserName   string `json:"user_name"`
	Epoch      int64  `json:"epoch"`
	jwt.RegisteredClaims
}

// Issuer signs and parses HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for the session.
func (i *Issuer) Issue(s domain.Session) (string, error) {
	now := i.now()
	claims := sessionClaims{
		PharmacyID: s.PharmacyID,
		UserName:   s.UserName,
		Epoch:      s.Epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.PharmacyID,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse verifies tokenString and returns the session it carries. Every
// failure is reported as domain Unauthorized.
func (i *Issuer) Parse(tokenString string) (domain.Session, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Session{}, domain.Unauthorized("token expired")
		}
		return domain.Session{}, domain.Unauthorized("invalid token")
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.PharmacyID == "" || claims.UserName == "" {
		return domain.Session{}, domain.Unauthorized("invalid token claims")
	}
	return domain.Session{PharmacyID: claims.PharmacyID, UserName: claims.UserName, Epoch: claims.Epoch}, nil
}
