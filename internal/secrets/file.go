package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	kberrors "github.com/saagar210/AssistSupport-sub002/internal/errors"
)

// FileConfig configures FileProvider.
type FileConfig struct {
	// Path is a JSON object of key to value. It is created on first Set.
	Path string
}

// FileProvider stores secrets in a 0600 JSON file.
type FileProvider struct {
	path string

	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider loads the file at cfg.Path if it exists.
func NewFileProvider(cfg FileConfig) (*FileProvider, error) {
	if cfg.Path == "" {
		return nil, kberrors.ConfigError("secrets file path required", nil)
	}
	p := &FileProvider{path: cfg.Path, data: make(map[string]string)}
	if err := p.load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, kberrors.ConfigError("failed to load secrets file", err).WithDetail("path", cfg.Path)
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.data[key]
	if !ok {
		return "", notFound(key, p.Name())
	}
	return v, nil
}

func (p *FileProvider) Set(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data[key] = value
	return p.save()
}

func (p *FileProvider) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.data[key]; !ok {
		return nil
	}
	delete(p.data, key)
	return p.save()
}

// Reload rereads the file.
func (p *FileProvider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

func (p *FileProvider) load() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse %s: %w", p.path, err)
	}
	p.data = data
	return nil
}

func (p *FileProvider) save() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return kberrors.StorageError("failed to create secrets directory", err)
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return kberrors.InternalError("failed to encode secrets", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return kberrors.StorageError("failed to write secrets file", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return kberrors.StorageError("failed to write secrets file", err)
	}
	return nil
}
