// Package tokenerr defines the failures surfaced by the token flows.
package tokenerr

import (
	"errors"
	"fmt"
	"net/url"
)

const maxPreview = 1024

// ErrAuthorizationTimeout is returned when no authorization code reached the
// loopback listener before the deadline. Re-running the flow is the remedy.
var ErrAuthorizationTimeout = errors.New("timed out waiting for authorization code")

// ConfigError reports a missing or malformed credential field.
type ConfigError struct {
	Source string
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "config error"
	}
	msg := "invalid credentials"
	if e.Source != "" {
		msg += " in " + e.Source
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CryptoError reports unusable key material.
type CryptoError struct {
	Err error
}

func (e *CryptoError) Error() string {
	if e == nil || e.Err == nil {
		return "crypto error"
	}
	return "crypto error: " + e.Err.Error()
}

func (e *CryptoError) Unwrap() error { return e.Err }

// UnsupportedAlgorithmError is returned when signing with anything but RS256.
type UnsupportedAlgorithmError struct {
	Algorithm string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported signing algorithm %q", e.Algorithm)
}

// NetworkError reports a transport failure talking to an endpoint.
type NetworkError struct {
	URI string
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "network error"
	}
	return fmt.Sprintf("request to %s failed: %v", e.URI, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TokenEndpointError reports a reachable endpoint that rejected the request
// or answered with something other than a token payload. Body holds the raw
// response for diagnosis.
type TokenEndpointError struct {
	StatusCode  int
	Body        []byte
	Code        string
	Description string
}

func (e *TokenEndpointError) Error() string {
	if e == nil {
		return "token endpoint error"
	}
	if e.Code != "" {
		if e.Description != "" {
			return fmt.Sprintf("token endpoint returned status %d: %s: %s", e.StatusCode, e.Code, e.Description)
		}
		return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Code)
	}

	preview := string(e.Body)
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "..."
	}
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, preview)
}

// MissingCodeError is returned when the redirect reached the listener without
// a code, typically because the user denied consent.
type MissingCodeError struct {
	Query url.Values
}

func (e *MissingCodeError) Error() string {
	if e == nil || e.Query == nil {
		return "no authorization code received"
	}
	if reason := e.Query.Get("error"); reason != "" {
		if desc := e.Query.Get("error_description"); desc != "" {
			return fmt.Sprintf("no authorization code received: %s: %s", reason, desc)
		}
		return "no authorization code received: " + reason
	}
	return "no authorization code received"
}

// StateMismatchError is returned when the redirect carries a state other
// than the one sent with the authorize request.
type StateMismatchError struct {
	Expected string
	Got      string
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("state mismatch: expected %q, got %q", e.Expected, e.Got)
}

// StashIOError reports a failure reading or writing the token stash.
type StashIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StashIOError) Error() string {
	if e == nil {
		return "stash error"
	}
	return fmt.Sprintf("stash %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StashIOError) Unwrap() error { return e.Err }
