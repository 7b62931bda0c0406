package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UnverifiedEmail returns the email claim of an id_token WITHOUT checking its
// signature, issuer, audience or expiry. The result is only fit for choosing
// a stash key. Never use it to decide who the caller is.
func UnverifiedEmail(idToken string) (string, error) {
	if idToken == "" {
		return "", errors.New("empty id_token")
	}

	parts := strings.Split(idToken, ".")
	if len(parts) < 2 {
		return "", errors.New("id_token is not a JWT")
	}

	// The header is not inspected, so an unknown or missing alg is fine.
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return "", fmt.Errorf("could not decode id_token payload: %w", err)
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("could not decode id_token payload: %w", err)
	}

	email, _ := claims["email"].(string)
	if email == "" {
		return "", errors.New("id_token has no email claim")
	}
	return email, nil
}
