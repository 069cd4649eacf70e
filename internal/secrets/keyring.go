package secrets

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/zalando/go-keyring"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// DefaultKeyringService is the keychain service entries are stored under.
const DefaultKeyringService = "assistkb"

// ErrBackendUnavailable matches errors from a backend that cannot be
// reached, such as a Linux session without a Secret Service daemon.
var ErrBackendUnavailable = kberrors.New(kberrors.ErrCodeSecretBackendUnavailable, "secret backend unavailable", nil)

func unavailable(provider string, cause error) error {
	return kberrors.New(kberrors.ErrCodeSecretBackendUnavailable, "secret backend unavailable: "+provider, cause).
		WithDetail("provider", provider).
		WithSuggestion("Set store.secrets_backend to 'file' on machines without an OS keychain")
}

// KeyringConfig configures KeyringProvider.
type KeyringConfig struct {
	// Service defaults to DefaultKeyringService.
	Service string

	// Scope keeps entries of different data directories apart. It is
	// appended to every account name.
	Scope string
}

// KeyringProvider stores secrets in the OS keychain: Keychain on macOS,
// Credential Manager on Windows, Secret Service on Linux.
type KeyringProvider struct {
	service string
	scope   string
}

// NewKeyringProvider creates a keychain provider.
func NewKeyringProvider(cfg KeyringConfig) *KeyringProvider {
	if cfg.Service == "" {
		cfg.Service = DefaultKeyringService
	}
	return &KeyringProvider{service: cfg.Service, scope: cfg.Scope}
}

func (p *KeyringProvider) Name() string { return "keyring" }

func (p *KeyringProvider) account(key string) string {
	if p.scope == "" {
		return key
	}
	return key + "@" + p.scope
}

func (p *KeyringProvider) Get(_ context.Context, key string) (string, error) {
	v, err := keyring.Get(p.service, p.account(key))
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, keyring.ErrNotFound):
		return "", notFound(key, p.Name())
	default:
		return "", unavailable(p.Name(), err)
	}
}

func (p *KeyringProvider) Set(_ context.Context, key, value string) error {
	if err := keyring.Set(p.service, p.account(key), value); err != nil {
		return unavailable(p.Name(), err)
	}
	return nil
}

func (p *KeyringProvider) Delete(_ context.Context, key string) error {
	err := keyring.Delete(p.service, p.account(key))
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return unavailable(p.Name(), err)
}

// Chain is a Provider over ordered backends. Unreachable backends are
// skipped. Get returns the first hit and moves a value found in a later
// backend into the first reachable one; Set writes to the first reachable
// backend.
type Chain struct {
	backends []Provider
}

// NewChain orders backends by preference. Nil entries are dropped.
func NewChain(backends ...Provider) *Chain {
	c := &Chain{}
	for _, b := range backends {
		if b != nil {
			c.backends = append(c.backends, b)
		}
	}
	return c
}

func (c *Chain) Name() string {
	names := make([]string, len(c.backends))
	for i, b := range c.backends {
		names[i] = b.Name()
	}
	return strings.Join(names, "+")
}

func (c *Chain) Get(ctx context.Context, key string) (string, error) {
	for i, b := range c.backends {
		v, err := b.Get(ctx, key)
		switch {
		case err == nil:
			if i > 0 {
				c.promote(ctx, key, v, i)
			}
			return v, nil
		case errors.Is(err, ErrSecretNotFound), errors.Is(err, ErrBackendUnavailable):
			continue
		default:
			return "", err
		}
	}
	return "", notFound(key, c.Name())
}

// promote copies a value found in backends[from] into the first reachable
// earlier backend and deletes it from backends[from].
func (c *Chain) promote(ctx context.Context, key, value string, from int) {
	for _, b := range c.backends[:from] {
		if err := b.Set(ctx, key, value); err != nil {
			continue
		}
		src := c.backends[from]
		if err := src.Delete(ctx, key); err != nil {
			slog.Warn("secret_move_incomplete", slog.String("key", key),
				slog.String("from", src.Name()), slog.String("error", err.Error()))
			return
		}
		slog.Info("secret_moved", slog.String("key", key),
			slog.String("from", src.Name()), slog.String("to", b.Name()))
		return
	}
}

func (c *Chain) Set(ctx context.Context, key, value string) error {
	var last error
	for _, b := range c.backends {
		err := b.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrBackendUnavailable) {
			return err
		}
		last = err
	}
	return unavailable(c.Name(), last)
}

// Delete removes key from every reachable backend.
func (c *Chain) Delete(ctx context.Context, key string) error {
	for _, b := range c.backends {
		if err := b.Delete(ctx, key); err != nil && !errors.Is(err, ErrBackendUnavailable) {
			return err
		}
	}
	return nil
}
