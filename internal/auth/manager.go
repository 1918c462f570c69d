package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/session"
	"github.com/ibeckermayer/post4me/internal/types"
)

var (
	ErrCancelled    = errors.New("logout cancelled")
	ErrMissingLogin = errors.New("username and password are required")
	ErrStillLinked  = errors.New("credentials are still present after logout")
	ErrLinkTimeout  = errors.New("account link timeout exceeded")
)

const (
	defaultLinkWait     = 5 * time.Minute // same window a manual login gets
	defaultLinkInterval = 2 * time.Second
)

// Settings is the part of the backend that stores the X credentials.
type Settings interface {
	EnvSettings(ctx context.Context) (map[string]string, error)
	SaveEnvSettings(ctx context.Context, values map[string]string) error
	TestConnection(ctx context.Context) (types.ConnectionCheck, error)
	Profile(ctx context.Context) (types.Profile, error)
}

// Confirmer asks the user before logging out.
type Confirmer interface {
	Confirm(ctx context.Context, message string, opts ...confirm.Option) (bool, error)
}

// Manager handles the X credentials the automation backend logs in with
type Manager struct {
	settings Settings
	gate     Confirmer
}

// NewManager creates a new auth manager
func NewManager(settings Settings, gate Confirmer) *Manager {
	return &Manager{settings: settings, gate: gate}
}

// IsConfigured checks if the backend has credentials stored
func (m *Manager) IsConfigured(ctx context.Context) (bool, error) {
	env, err := m.settings.EnvSettings(ctx)
	if err != nil {
		return false, err
	}
	return session.Configured(env), nil
}

// NormalizeUsername strips the handle marker. ok is false when the value
// looks like an email address, which X login by the automation rejects.
func NormalizeUsername(v string) (string, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "@")
	return v, !strings.Contains(v, "@")
}

// Login stores the credentials, keeping the rest of the env settings, and
// asks the backend to try them.
func (m *Manager) Login(ctx context.Context, username, password string) (types.ConnectionCheck, error) {
	username, ok := NormalizeUsername(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return types.ConnectionCheck{}, ErrMissingLogin
	}
	if !ok {
		log.Printf("[auth] Username %q looks like an email, X may ask for the handle", username)
	}

	env, err := m.settings.EnvSettings(ctx)
	if err != nil {
		return types.ConnectionCheck{}, fmt.Errorf("read settings: %w", err)
	}
	env[session.EnvUsername] = username
	env[session.EnvPassword] = password
	if err := m.settings.SaveEnvSettings(ctx, env); err != nil {
		return types.ConnectionCheck{}, fmt.Errorf("save credentials: %w", err)
	}
	return m.TestConnection(ctx)
}

// TestConnection asks the backend to log in with the stored credentials.
func (m *Manager) TestConnection(ctx context.Context) (types.ConnectionCheck, error) {
	res, err := m.settings.TestConnection(ctx)
	if err != nil {
		return types.ConnectionCheck{}, err
	}
	if !res.Success {
		log.Printf("[auth] Connection test failed: %s (manual=%v)", res.Error, res.NeedsManualIntervention)
	}
	return res, nil
}

// Logout clears the stored credentials after the user confirms, then checks
// that they are gone.
func (m *Manager) Logout(ctx context.Context) error {
	ok, err := m.gate.Confirm(ctx,
		"Log out of X? The stored username and password will be removed.",
		confirm.ConfirmText("Log out"), confirm.Danger())
	if err != nil {
		return err
	}
	if !ok {
		return ErrCancelled
	}

	env, err := m.settings.EnvSettings(ctx)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	env[session.EnvUsername] = ""
	env[session.EnvPassword] = ""
	if err := m.settings.SaveEnvSettings(ctx, env); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	configured, err := m.IsConfigured(ctx)
	if err != nil {
		return fmt.Errorf("recheck settings: %w", err)
	}
	if configured {
		return ErrStillLinked
	}
	log.Println("[auth] Logged out")
	return nil
}

// WaitForLink polls until the backend reports a linked account, e.g. after
// the user finished a manual login in the automation browser.
func (m *Manager) WaitForLink(ctx context.Context, interval, timeout time.Duration) (types.Profile, error) {
	if interval <= 0 {
		interval = defaultLinkInterval
	}
	if timeout <= 0 {
		timeout = defaultLinkWait
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return types.Profile{}, ErrLinkTimeout
		case <-ticker.C:
			p, err := m.settings.Profile(ctx)
			if err != nil {
				continue
			}
			if p.Linked() {
				return p, nil
			}
		case <-ctx.Done():
			return types.Profile{}, ctx.Err()
		}
	}
}
