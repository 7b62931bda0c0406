// Package config loads the optional settings file of the token tools.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dvcrn/gcp-token-stash/internal/auth"
	"github.com/dvcrn/gcp-token-stash/internal/credentials"
	"github.com/dvcrn/gcp-token-stash/internal/env"
	serverhttp "github.com/dvcrn/gcp-token-stash/internal/http"
	"github.com/dvcrn/gcp-token-stash/internal/stash"
)

const (
	defaultConfigDirName = "gettoken"
	defaultConfigFile    = "config.yaml"

	EnvConfig    = "GCP_TOKEN_CONFIG"
	EnvStashPath = "GCP_TOKEN_STASH"
	EnvNoBrowser = "GCP_TOKEN_NO_BROWSER"
)

// Settings tune the token flows. Keys absent from the file keep their
// defaults. An explicit zero grace-delay turns the delay off; zero ports,
// timeouts, scopes and paths fall back to the defaults.
type Settings struct {
	StashPath            string        `yaml:"stash-path,omitempty"`
	LoopbackPort         int           `yaml:"loopback-port,omitempty"`
	GraceDelay           time.Duration `yaml:"grace-delay,omitempty"`
	AuthorizationTimeout time.Duration `yaml:"authorization-timeout,omitempty"`
	HTTPTimeout          time.Duration `yaml:"http-timeout,omitempty"`
	UserScopes           []string      `yaml:"user-scopes,omitempty"`
	ServiceAccountScope  string        `yaml:"service-account-scope,omitempty"`
	NoBrowser            bool          `yaml:"no-browser,omitempty"`
}

func Default() Settings {
	return Settings{
		StashPath:            env.ExpandHome(stash.DefaultPath),
		LoopbackPort:         auth.DefaultLoopbackPort,
		GraceDelay:           auth.DefaultGraceDelay,
		AuthorizationTimeout: auth.DefaultAuthorizationTimeout,
		HTTPTimeout:          serverhttp.DefaultTimeout,
		UserScopes:           append([]string(nil), credentials.DefaultUserScopes...),
		ServiceAccountScope:  credentials.DefaultServiceAccountScope,
	}
}

// DefaultPath is $GCP_TOKEN_CONFIG, or config.yaml in the user config dir.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return env.ExpandHome(p)
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+defaultConfigDirName, defaultConfigFile)
}

// Load reads settings from path. An empty path means DefaultPath, which may
// be absent; an explicitly named file must exist. Environment overrides are
// applied last.
func Load(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	s := Default()
	content, err := os.ReadFile(env.ExpandHome(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &s); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	s.applyEnv()
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &s, nil
}

func (s *Settings) applyEnv() {
	s.StashPath = env.GetOrDefault(EnvStashPath, s.StashPath)
	if env.Bool(EnvNoBrowser) {
		s.NoBrowser = true
	}
}

func (s *Settings) applyDefaults() {
	d := Default()
	if s.StashPath == "" {
		s.StashPath = d.StashPath
	}
	s.StashPath = env.ExpandHome(s.StashPath)
	if s.LoopbackPort == 0 {
		s.LoopbackPort = d.LoopbackPort
	}
	if s.AuthorizationTimeout == 0 {
		s.AuthorizationTimeout = d.AuthorizationTimeout
	}
	if s.HTTPTimeout == 0 {
		s.HTTPTimeout = d.HTTPTimeout
	}
	if len(s.UserScopes) == 0 {
		s.UserScopes = d.UserScopes
	}
	if s.ServiceAccountScope == "" {
		s.ServiceAccountScope = d.ServiceAccountScope
	}
}

// Validate rejects values no flow can run with.
func (s *Settings) Validate() error {
	if s.LoopbackPort < 0 || s.LoopbackPort > 65535 {
		return fmt.Errorf("loopback-port %d out of range", s.LoopbackPort)
	}
	if s.GraceDelay < 0 {
		return errors.New("grace-delay must not be negative")
	}
	if s.AuthorizationTimeout < 0 {
		return errors.New("authorization-timeout must not be negative")
	}
	if s.HTTPTimeout < 0 {
		return errors.New("http-timeout must not be negative")
	}
	return nil
}
