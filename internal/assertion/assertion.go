// Package assertion mints the signed JWT used as the assertion of a
// JWT-bearer grant for a service account.
package assertion

import (
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dvcrn/gcp-token-stash/internal/credentials"
	"github.com/dvcrn/gcp-token-stash/internal/tokenerr"
)

const (
	// AlgRS256 is the only supported signing algorithm.
	AlgRS256 = "RS256"

	// Lifetime of every assertion. The token endpoint rejects longer ones.
	Lifetime = 60 * time.Second
)

// Header is the JOSE header of an assertion.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims are serialized in field order, which is part of the signed bytes.
type Claims struct {
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
	Scope    string `json:"scope"`
}

// NewClaims builds the claims for sa issued at now.
func NewClaims(sa *credentials.ServiceAccount, now time.Time) Claims {
	iat := now.Unix()
	return Claims{
		Issuer:   sa.ClientEmail,
		Audience: sa.TokenURI,
		IssuedAt: iat,
		Expiry:   iat + int64(Lifetime/time.Second),
		Scope:    sa.Scope,
	}
}

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Expiry, 0)), nil
}

func (c Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c Claims) GetIssuer() (string, error)              { return c.Issuer, nil }
func (c Claims) GetSubject() (string, error)             { return "", nil }

func (c Claims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}

// Sign returns the compact RS256 assertion for sa.
func Sign(sa *credentials.ServiceAccount, now time.Time) (string, error) {
	return SignWithAlgorithm(AlgRS256, sa, now)
}

// SignWithAlgorithm signs with alg, which must be RS256.
func SignWithAlgorithm(alg string, sa *credentials.ServiceAccount, now time.Time) (string, error) {
	if alg != AlgRS256 {
		return "", &tokenerr.UnsupportedAlgorithmError{Algorithm: alg}
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(sa.PrivateKeyPEM))
	if err != nil {
		return "", &tokenerr.CryptoError{Err: err}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, NewClaims(sa, now))
	signed, err := token.SignedString(key)
	if err != nil {
		return "", &tokenerr.CryptoError{Err: err}
	}
	return signed, nil
}

// EncodeSegment is base64url without padding.
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeSegment reverses EncodeSegment.
func DecodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
