package credentials

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dvcrn/gcp-token-stash/internal/tokenerr"
)

// LoadServiceAccount reads a service account key file. An empty scope falls
// back to DefaultServiceAccountScope.
func LoadServiceAccount(path string, scope string) (*ServiceAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &tokenerr.ConfigError{Source: path, Reason: "cannot read file", Err: err}
	}
	sa, err := ParseServiceAccount(data, scope)
	if err != nil {
		return nil, withSource(err, path)
	}
	return sa, nil
}

// ParseServiceAccount validates a service account key document.
func ParseServiceAccount(data []byte, scope string) (*ServiceAccount, error) {
	var raw serviceAccountFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &tokenerr.ConfigError{Reason: "malformed JSON", Err: err}
	}
	if raw.Type != "" && raw.Type != "service_account" {
		return nil, &tokenerr.ConfigError{Field: "type", Reason: fmt.Sprintf("expected service_account, got %q", raw.Type)}
	}
	if raw.ClientEmail == "" {
		return nil, missing("client_email")
	}
	if raw.PrivateKey == "" {
		return nil, missing("private_key")
	}
	if !strings.Contains(raw.PrivateKey, "-----BEGIN") {
		return nil, &tokenerr.ConfigError{Field: "private_key", Reason: "not PEM encoded"}
	}
	if raw.TokenURI == "" {
		return nil, missing("token_uri")
	}
	if err := checkURL("token_uri", raw.TokenURI); err != nil {
		return nil, err
	}
	if scope == "" {
		scope = DefaultServiceAccountScope
	}

	return &ServiceAccount{
		ClientEmail:   raw.ClientEmail,
		PrivateKeyPEM: raw.PrivateKey,
		TokenURI:      raw.TokenURI,
		Scope:         scope,
	}, nil
}

// LoadUserInstalledApp reads an OAuth client file. Empty scopes fall back to
// DefaultUserScopes.
func LoadUserInstalledApp(path string, scopes []string) (*UserInstalledApp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &tokenerr.ConfigError{Source: path, Reason: "cannot read file", Err: err}
	}
	app, err := ParseUserInstalledApp(data, scopes)
	if err != nil {
		return nil, withSource(err, path)
	}
	return app, nil
}

// ParseUserInstalledApp validates an OAuth client document.
func ParseUserInstalledApp(data []byte, scopes []string) (*UserInstalledApp, error) {
	var raw clientSecretFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &tokenerr.ConfigError{Reason: "malformed JSON", Err: err}
	}

	client := raw.clientSecret
	switch {
	case raw.Installed != nil:
		client = *raw.Installed
	case raw.Web != nil:
		client = *raw.Web
	}

	if client.ClientID == "" {
		return nil, missing("client_id")
	}
	if client.ClientSecret == "" {
		return nil, missing("client_secret")
	}
	if client.AuthURI == "" {
		return nil, missing("auth_uri")
	}
	if err := checkURL("auth_uri", client.AuthURI); err != nil {
		return nil, err
	}
	if client.TokenURI == "" {
		return nil, missing("token_uri")
	}
	if err := checkURL("token_uri", client.TokenURI); err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		scopes = DefaultUserScopes
	}

	return &UserInstalledApp{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		AuthURI:      client.AuthURI,
		TokenURI:     client.TokenURI,
		Scopes:       append([]string(nil), scopes...),
	}, nil
}

func missing(field string) error {
	return &tokenerr.ConfigError{Field: field, Reason: "is required"}
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &tokenerr.ConfigError{Field: field, Reason: "invalid URL", Err: err}
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return &tokenerr.ConfigError{Field: field, Reason: "must be an http(s) URL"}
	}
	if u.Host == "" {
		return &tokenerr.ConfigError{Field: field, Reason: "missing host"}
	}
	return nil
}

func withSource(err error, path string) error {
	if cfgErr, ok := err.(*tokenerr.ConfigError); ok {
		cfgErr.Source = path
	}
	return err
}
