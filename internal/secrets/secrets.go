// Package secrets retrieves the master secret and provider tokens from
// pluggable backends. Values are wrapped in Secret so they never reach logs.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// Well-known keys.
const (
	KeyMaster           = "master"
	providerTokenPrefix = "provider_token_"
)

// DefaultEnvPrefix prefixes environment variable names.
const DefaultEnvPrefix = "ASSISTKB_SECRET_"

// ErrSecretNotFound matches any missing-secret error with errors.Is.
var ErrSecretNotFound = kberrors.New(kberrors.ErrCodeSecretNotFound, "secret not found", nil)

func notFound(key, provider string) error {
	return kberrors.New(kberrors.ErrCodeSecretNotFound, "secret not found: "+key, nil).
		WithDetail("provider", provider)
}

// Provider is a secret backend.
type Provider interface {
	// Get returns the secret or an error matching ErrSecretNotFound.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Name() string
}

// Secret holds a sensitive value. Its String and LogValue are redacted.
type Secret struct {
	value string
}

// NewSecret wraps value.
func NewSecret(value string) Secret { return Secret{value: value} }

// Reveal returns the raw value.
func (s Secret) Reveal() string { return s.value }

// Bytes returns the raw value as bytes.
func (s Secret) Bytes() []byte { return []byte(s.value) }

// IsZero reports whether the secret is empty.
func (s Secret) IsZero() bool { return s.value == "" }

func (s Secret) String() string { return "[REDACTED]" }

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string { return "secrets.Secret{[REDACTED]}" }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }

// Manager reads from a primary provider, then a fallback, caching hits.
type Manager struct {
	primary  Provider
	fallback Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager chains primary and fallback. fallback may be nil.
func NewManager(primary, fallback Provider) *Manager {
	return &Manager{
		primary:  primary,
		fallback: fallback,
		cache:    make(map[string]string),
	}
}

// Backends for Options.Backend.
const (
	BackendAuto    = "auto"
	BackendKeyring = "keyring"
	BackendFile    = "file"
)

// Options selects where NewDefaultManager keeps secrets.
type Options struct {
	// Backend is BackendAuto (keychain, then FilePath), BackendKeyring or
	// BackendFile. Empty means BackendAuto.
	Backend string

	// FilePath is the JSON secrets file.
	FilePath string

	// KeyringService and KeyringScope name keychain entries.
	KeyringService string
	KeyringScope   string
}

// NewDefaultManager builds the configured backend and falls back to
// ASSISTKB_SECRET_* environment variables for reads.
func NewDefaultManager(opts Options) (*Manager, error) {
	env := NewEnvProvider(DefaultEnvPrefix)
	kr := func() Provider {
		return NewKeyringProvider(KeyringConfig{Service: opts.KeyringService, Scope: opts.KeyringScope})
	}

	switch strings.ToLower(opts.Backend) {
	case BackendKeyring:
		return NewManager(kr(), env), nil
	case BackendFile, BackendAuto, "":
	default:
		return nil, kberrors.ConfigError("unknown secrets backend "+opts.Backend, nil)
	}

	file, err := NewFileProvider(FileConfig{Path: opts.FilePath})
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(opts.Backend, BackendFile) {
		return NewManager(file, env), nil
	}
	return NewManager(NewChain(kr(), file), env), nil
}

// Backend names the primary provider.
func (m *Manager) Backend() string { return m.primary.Name() }

// Get returns the secret for key.
func (m *Manager) Get(ctx context.Context, key string) (Secret, error) {
	m.mu.RLock()
	if v, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return NewSecret(v), nil
	}
	m.mu.RUnlock()

	var down error
	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		v, err := p.Get(ctx, key)
		switch {
		case err == nil && v != "":
			m.cacheSet(key, v)
			return NewSecret(v), nil
		case err == nil, errors.Is(err, ErrSecretNotFound):
		case errors.Is(err, ErrBackendUnavailable):
			if down == nil {
				down = err
			}
		default:
			return Secret{}, err
		}
	}
	// An unreachable backend may hold the secret, so it is not reported
	// as missing.
	if down != nil {
		return Secret{}, down
	}
	return Secret{}, notFound(key, m.primary.Name())
}

// Set stores a secret in the primary provider.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	if err := m.primary.Set(ctx, key, value); err != nil {
		return err
	}
	m.cacheSet(key, value)
	return nil
}

// Delete removes a secret from the primary provider.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.primary.Delete(ctx, key); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
	return nil
}

// ClearCache drops cached values.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]string)
	m.mu.Unlock()
}

func (m *Manager) cacheSet(key, value string) {
	m.mu.Lock()
	m.cache[key] = value
	m.mu.Unlock()
}

// MasterSecret returns the secret that unlocks the metadata store.
func (m *Manager) MasterSecret(ctx context.Context) (Secret, error) {
	return m.Get(ctx, KeyMaster)
}

// EnsureMasterSecret returns the master secret, generating and storing a
// random one when none exists yet. created reports a new secret.
func (m *Manager) EnsureMasterSecret(ctx context.Context) (s Secret, created bool, err error) {
	s, err = m.MasterSecret(ctx)
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return Secret{}, false, err
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return Secret{}, false, kberrors.InternalError("failed to generate master secret", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)
	if err := m.Set(ctx, KeyMaster, value); err != nil {
		return Secret{}, false, err
	}
	return NewSecret(value), true, nil
}

// ProviderToken returns the API token for a named provider, such as "ollama".
func (m *Manager) ProviderToken(ctx context.Context, provider string) (Secret, error) {
	return m.Get(ctx, providerTokenPrefix+strings.ToLower(provider))
}

// EnvProvider reads secrets from environment variables named prefix+KEY.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) envKey(key string) string {
	return p.prefix + strings.ToUpper(key)
}

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	if v := os.Getenv(p.envKey(key)); v != "" {
		return v, nil
	}
	return "", notFound(key, p.Name())
}

func (p *EnvProvider) Set(_ context.Context, key, value string) error {
	return os.Setenv(p.envKey(key), value)
}

func (p *EnvProvider) Delete(_ context.Context, key string) error {
	return os.Unsetenv(p.envKey(key))
}
