package env

import (
	"os"
	"path/filepath"
	"strings"
)

// GetOrDefault returns the value of the environment variable or the fallback
// when it is unset or empty.
func GetOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Bool reports whether the variable holds a truthy value ("1", "true", "yes").
func Bool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// ExpandHome resolves a leading "~" to the current user's home directory.
// "~other/x" is resolved as a sibling of the home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return filepath.Join(filepath.Dir(home), path[1:])
}
