// Package envfile moves the backend's env settings in and out of a YAML file,
// so a setup can be backed up or carried to another machine.
package envfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the file format version written by Export.
const Version = 1

// Redacted replaces secret values unless they are exported explicitly.
// Import skips keys that still carry it.
const Redacted = "********"

var keyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

var (
	ErrVersion = errors.New("unsupported env file version")
	ErrEmpty   = errors.New("env file has no settings")
)

// File models the exported document.
type File struct {
	Version    int               `yaml:"version"`
	ExportedAt time.Time         `yaml:"exported_at,omitempty"`
	Settings   map[string]string `yaml:"settings"`
}

// Settings is the backend's env settings endpoint.
type Settings interface {
	EnvSettings(ctx context.Context) (map[string]string, error)
	SaveEnvSettings(ctx context.Context, values map[string]string) error
}

// Secret reports whether key holds a credential.
func Secret(key string) bool {
	for _, marker := range []string{"PASSWORD", "SECRET", "TOKEN", "API_KEY"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// Export writes values as YAML. Secrets are redacted unless withSecrets.
func Export(w io.Writer, values map[string]string, withSecrets bool) error {
	f := File{Version: Version, ExportedAt: time.Now().UTC().Truncate(time.Second), Settings: make(map[string]string, len(values))}
	for k, v := range values {
		if !withSecrets && Secret(k) && v != "" {
			v = Redacted
		}
		f.Settings[k] = v
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode env file: %w", err)
	}
	return enc.Close()
}

// Read parses and validates an env file.
func Read(r io.Reader) (map[string]string, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("parse env file: %w", err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}
	if len(f.Settings) == 0 {
		return nil, ErrEmpty
	}
	for k := range f.Settings {
		if !keyPattern.MatchString(k) {
			return nil, fmt.Errorf("invalid setting name %q", k)
		}
	}
	return f.Settings, nil
}

// Merge overlays imported values on current ones and returns the result
// with the names of the keys that changed. Redacted values are skipped.
func Merge(current, imported map[string]string) (map[string]string, []string) {
	out := make(map[string]string, len(current)+len(imported))
	for k, v := range current {
		out[k] = v
	}
	var changed []string
	for k, v := range imported {
		if v == Redacted {
			continue
		}
		if old, ok := out[k]; ok && old == v {
			continue
		}
		out[k] = v
		changed = append(changed, k)
	}
	sort.Strings(changed)
	return out, changed
}

// Import reads r and writes the merged settings to the backend. Nothing is
// written when no key changes.
func Import(ctx context.Context, s Settings, r io.Reader) ([]string, error) {
	imported, err := Read(r)
	if err != nil {
		return nil, err
	}
	current, err := s.EnvSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current settings: %w", err)
	}
	merged, changed := Merge(current, imported)
	if len(changed) == 0 {
		return nil, nil
	}
	if err := s.SaveEnvSettings(ctx, merged); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	log.Printf("[envfile] Imported %d setting(s): %s", len(changed), strings.Join(changed, ", "))
	return changed, nil
}
