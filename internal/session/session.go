// Package session holds the application-wide settings and connectivity
// state. One Session is created at start-up and handed to whatever needs it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ibeckermayer/post4me/internal/poller"
	"github.com/ibeckermayer/post4me/internal/types"
)

type Locale string

const (
	LocaleEN Locale = "en"
	LocaleFR Locale = "fr"
)

func ParseLocale(v string) (Locale, error) {
	switch l := Locale(strings.ToLower(strings.TrimSpace(v))); l {
	case LocaleEN, LocaleFR:
		return l, nil
	}
	return "", fmt.Errorf("unknown locale %q", v)
}

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func ParseTheme(v string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(v))); t {
	case ThemeLight, ThemeDark:
		return t, nil
	}
	return "", fmt.Errorf("unknown theme %q", v)
}

// Flag is a check result that stays Unknown until the first check finishes.
type Flag int8

const (
	Unknown Flag = iota
	No
	Yes
)

// FlagOf converts a completed check.
func FlagOf(v bool) Flag {
	if v {
		return Yes
	}
	return No
}

func (f Flag) Known() bool { return f != Unknown }

func (f Flag) String() string {
	switch f {
	case Yes:
		return "yes"
	case No:
		return "no"
	}
	return "unknown"
}

// Keys in the local kv store and in the backend's preference map.
const (
	KeyLocale = "locale"
	KeyTheme  = "theme"
)

// Credential keys in the backend's env settings.
const (
	EnvUsername = "X_USERNAME"
	EnvPassword = "X_PASSWORD"
)

// KV is the local storage for preferences.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Backend is what the session reads from the automation backend.
type Backend interface {
	Preferences(ctx context.Context) (map[string]string, error)
	SavePreferences(ctx context.Context, prefs map[string]string) error
	EnvSettings(ctx context.Context) (map[string]string, error)
	CheckGoogle(ctx context.Context) (bool, error)
	Profile(ctx context.Context) (types.Profile, error)
}

// State is a copy of the session at one point in time.
type State struct {
	Locale Locale
	Theme  Theme
	// Configured is whether X credentials are stored on the backend.
	Configured Flag
	// Connected is whether the backend knows which account it drives.
	Connected Flag
	Google    Flag
	Profile   types.Profile
	CheckedAt time.Time
}

// CharLimit is the post length limit for the linked account.
func (s State) CharLimit() int {
	return s.Profile.CharLimit()
}

type Session struct {
	kv      KV
	backend Backend

	mu        sync.Mutex
	state     State
	listeners []func(State)
}

// New reads the locally stored preferences. Connectivity flags start Unknown.
func New(kv KV, backend Backend) (*Session, error) {
	s := &Session{
		kv:      kv,
		backend: backend,
		state:   State{Locale: LocaleEN, Theme: ThemeLight},
	}
	if v, ok, err := kv.Get(KeyLocale); err != nil {
		return nil, fmt.Errorf("read locale: %w", err)
	} else if ok {
		if l, err := ParseLocale(v); err == nil {
			s.state.Locale = l
		}
	}
	if v, ok, err := kv.Get(KeyTheme); err != nil {
		return nil, fmt.Errorf("read theme: %w", err)
	} else if ok {
		if t, err := ParseTheme(v); err == nil {
			s.state.Theme = t
		}
	}
	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers fn to run after every state change.
func (s *Session) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	st := s.state
	listeners := append([]func(State){}, s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(st)
	}
}

// LoadPreferences adopts the locale and theme stored on the backend, which
// outlive the local state directory.
func (s *Session) LoadPreferences(ctx context.Context) error {
	prefs, err := s.backend.Preferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	l, lerr := ParseLocale(prefs[KeyLocale])
	t, terr := ParseTheme(prefs[KeyTheme])
	if lerr == nil {
		if err := s.kv.Set(KeyLocale, string(l)); err != nil {
			return err
		}
	}
	if terr == nil {
		if err := s.kv.Set(KeyTheme, string(t)); err != nil {
			return err
		}
	}
	s.update(func(st *State) {
		if lerr == nil {
			st.Locale = l
		}
		if terr == nil {
			st.Theme = t
		}
	})
	return nil
}

// SetLocale stores the locale locally and pushes it to the backend. A failed
// push is only logged.
func (s *Session) SetLocale(ctx context.Context, v string) error {
	l, err := ParseLocale(v)
	if err != nil {
		return err
	}
	if err := s.kv.Set(KeyLocale, string(l)); err != nil {
		return err
	}
	s.update(func(st *State) { st.Locale = l })
	s.push(ctx, KeyLocale, string(l))
	return nil
}

// SetTheme stores the theme locally and pushes it to the backend.
func (s *Session) SetTheme(ctx context.Context, v string) error {
	t, err := ParseTheme(v)
	if err != nil {
		return err
	}
	if err := s.kv.Set(KeyTheme, string(t)); err != nil {
		return err
	}
	s.update(func(st *State) { st.Theme = t })
	s.push(ctx, KeyTheme, string(t))
	return nil
}

func (s *Session) push(ctx context.Context, key, value string) {
	if err := s.backend.SavePreferences(ctx, map[string]string{key: value}); err != nil {
		log.Printf("[session] Failed to save %s preference: %v", key, err)
	}
}

// Configured reports whether both X credentials are present in env.
func Configured(env map[string]string) bool {
	return strings.TrimSpace(env[EnvUsername]) != "" && strings.TrimSpace(env[EnvPassword]) != ""
}

// RecheckConfig reads the env settings. An unreachable backend counts as not
// configured.
func (s *Session) RecheckConfig(ctx context.Context) error {
	env, err := s.backend.EnvSettings(ctx)
	configured := err == nil && Configured(env)
	s.update(func(st *State) { st.Configured = FlagOf(configured) })
	return err
}

// RecheckGoogle asks whether the automation browser is signed in to Google.
// A failed check leaves the flag Unknown.
func (s *Session) RecheckGoogle(ctx context.Context) error {
	ok, err := s.backend.CheckGoogle(ctx)
	s.update(func(st *State) {
		if err != nil {
			st.Google = Unknown
			return
		}
		st.Google = FlagOf(ok)
	})
	return err
}

// RefreshProfile reloads the cached profile. On failure the previous profile
// is kept.
func (s *Session) RefreshProfile(ctx context.Context) error {
	p, err := s.backend.Profile(ctx)
	if err != nil {
		return err
	}
	s.update(func(st *State) {
		st.Profile = p
		st.Connected = FlagOf(p.Linked())
	})
	return nil
}

// Check is the periodic connectivity poll: configuration and profile.
func (s *Session) Check(ctx context.Context) error {
	cfgErr := s.RecheckConfig(ctx)
	profErr := s.RefreshProfile(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.update(func(st *State) { st.CheckedAt = time.Now() })
	return errors.Join(cfgErr, profErr)
}

// Loop is the fixed-cadence connectivity check.
func (s *Session) Loop(interval time.Duration) *poller.Loop {
	if interval <= 0 {
		interval = poller.StatusInterval
	}
	return poller.New("status", poller.Fixed(interval), s.Check)
}
