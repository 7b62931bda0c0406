// Package stash persists user tokens between invocations and decides whether
// a stashed token is refreshed or a new authorization is needed.
package stash

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"

	"github.com/dvcrn/gcp-token-stash/internal/auth"
	"github.com/dvcrn/gcp-token-stash/internal/tokenerr"
)

// DefaultPath is where the stash lives unless configured otherwise.
const DefaultPath = "~/.gcp-token-stash.json"

const keySeparator = "##"

// isoMillis matches the timestamps already present in existing stash files.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// StashedToken is a token response plus the bookkeeping added when it was
// stashed. Expires is only set when the response carried expires_in.
type StashedToken struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    *int64 `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`

	Issued           int64  `json:"issued"`
	IssuedFormatted  string `json:"issuedFormatted"`
	Expires          int64  `json:"expires,omitempty"`
	ExpiresFormatted string `json:"expiresFormatted,omitempty"`
}

// NewStashedToken stamps resp with its issue time and, when known, its expiry.
func NewStashedToken(resp *auth.TokenResponse, issued time.Time) *StashedToken {
	issued = issued.UTC()
	st := &StashedToken{
		AccessToken:     resp.AccessToken,
		TokenType:       resp.TokenType,
		ExpiresIn:       resp.ExpiresIn,
		RefreshToken:    resp.RefreshToken,
		IDToken:         resp.IDToken,
		Scope:           resp.Scope,
		Issued:          issued.UnixMilli(),
		IssuedFormatted: issued.Format(isoMillis),
	}
	if resp.ExpiresIn != nil {
		st.Expires = st.Issued + *resp.ExpiresIn*1000
		st.ExpiresFormatted = time.UnixMilli(st.Expires).UTC().Format(isoMillis)
	}
	return st
}

// Response drops the bookkeeping fields.
func (t *StashedToken) Response() *auth.TokenResponse {
	return &auth.TokenResponse{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		ExpiresIn:    t.ExpiresIn,
		RefreshToken: t.RefreshToken,
		IDToken:      t.IDToken,
		Scope:        t.Scope,
	}
}

// OAuth2Token converts to an oauth2.Token. A token without a known expiry
// never expires as far as oauth2 is concerned.
func (t *StashedToken) OAuth2Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
	}
	if t.Expires > 0 {
		tok.Expiry = time.UnixMilli(t.Expires)
	}
	if t.IDToken != "" {
		tok = tok.WithExtra(map[string]interface{}{"id_token": t.IDToken})
	}
	return tok
}

// Stash maps stash keys to tokens. It is read and written as one document.
type Stash map[string]*StashedToken

// Key builds the stash key for a client and user. It returns "" when user is
// empty, which means the token cannot be stashed.
func Key(clientID, user string) string {
	if user == "" {
		return ""
	}
	return clientID + keySeparator + user
}

// File is the on-disk stash document.
type File struct {
	Path string
}

// Load reads the stash. A missing file is an empty stash.
func (f *File) Load() (Stash, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Stash{}, nil
		}
		return nil, &tokenerr.StashIOError{Op: "read", Path: f.Path, Err: err}
	}

	stash := Stash{}
	if len(data) == 0 {
		return stash, nil
	}
	if err := json.Unmarshal(data, &stash); err != nil {
		return nil, &tokenerr.StashIOError{Op: "parse", Path: f.Path, Err: err}
	}
	return stash, nil
}

// Save writes the whole stash, replacing the previous document.
func (f *File) Save(stash Stash) error {
	data, err := json.MarshalIndent(stash, "", "  ")
	if err != nil {
		return &tokenerr.StashIOError{Op: "encode", Path: f.Path, Err: err}
	}
	data = append(data, '\n')

	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return &tokenerr.StashIOError{Op: "write", Path: f.Path, Err: err}
		}
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return &tokenerr.StashIOError{Op: "write", Path: f.Path, Err: err}
	}
	return nil
}
