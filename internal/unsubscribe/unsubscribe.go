// Package unsubscribe signs and verifies the tokens carried by
// List-Unsubscribe links.
package unsubscribe

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that are malformed, forged or
// expired.
var ErrInvalidToken = errors.New("invalid unsubscribe token")

// TokenTTL bounds how long an unsubscribe link keeps working. Old emails get
// opened for months.
const TokenTTL = 365 * 24 * time.Hour

const issuer = "cadence-unsubscribe"

// Claims identifies the contact an unsubscribe link belongs to.
type Claims struct {
	ContactID    uuid.UUID `json:"cid"`
	EnrollmentID uuid.UUID `json:"eid,omitempty"`
	jwt.RegisteredClaims
}

// Signer mints and checks HS256 unsubscribe tokens.
type Signer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewSigner creates a Signer. baseURL is the public site URL the
// /unsubscribe path is appended to.
func NewSigner(secret, baseURL string, now func() time.Time) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("unsubscribe secret is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{secret: []byte(secret), baseURL: baseURL, now: now}, nil
}

// Sign returns a token for the contact. enrollmentID may be uuid.Nil.
func (s *Signer) Sign(contactID, enrollmentID uuid.UUID) (string, error) {
	now := s.now()
	claims := &Claims{
		ContactID:    contactID,
		EnrollmentID: enrollmentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   contactID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// URL returns the full unsubscribe link for the contact.
func (s *Signer) URL(contactID, enrollmentID uuid.UUID) (string, error) {
	token, err := s.Sign(contactID, enrollmentID)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/unsubscribe?token=" + url.QueryEscape(token), nil
}

// Verify parses a token and returns its claims.
func (s *Signer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ContactID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
