package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ideahub/pkg/auth"
	"github.com/platinummonkey/ideahub/pkg/observability"
)

// Policy is the operator-editable part of the configuration
type Policy struct {
	// Scopes are granted in addition to the built-in scopes
	Scopes []string `yaml:"scopes"`

	RateLimits PolicyRateLimits `yaml:"rate_limits"`
}

// PolicyRateLimits overrides the environment rate limits when set
type PolicyRateLimits struct {
	PerKey    int           `yaml:"per_key"`
	Anonymous int           `yaml:"anonymous"`
	Window    time.Duration `yaml:"window"`
}

// ExtraScopes returns the policy scopes as auth scopes
func (p *Policy) ExtraScopes() []auth.Scope {
	out := make([]auth.Scope, 0, len(p.Scopes))
	for _, s := range p.Scopes {
		out = append(out, auth.Scope(s))
	}
	return out
}

// Apply overlays the policy's rate limits onto cfg
func (p *Policy) Apply(cfg *RateLimitConfig) {
	if p.RateLimits.PerKey > 0 {
		cfg.PerKeyRequests = p.RateLimits.PerKey
	}
	if p.RateLimits.Anonymous > 0 {
		cfg.AnonymousRequests = p.RateLimits.Anonymous
	}
	if p.RateLimits.Window > 0 {
		cfg.Window = p.RateLimits.Window
	}
}

// LoadPolicy reads and parses a policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if p.RateLimits.PerKey < 0 || p.RateLimits.Anonymous < 0 || p.RateLimits.Window < 0 {
		return nil, fmt.Errorf("policy rate limits must not be negative")
	}
	return &p, nil
}

// WatchPolicy reloads the policy file whenever it changes and swaps the
// catalog's extra scopes. Rate limit changes need a restart. A file that fails
// to parse leaves the previous scopes in place. It blocks until ctx is done.
func WatchPolicy(ctx context.Context, path string, catalog *auth.ScopeCatalog, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and config maps replace the file rather
	// than writing it in place.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p, err := LoadPolicy(path)
			if err != nil {
				logger.WithError(err).Warn("policy reload failed, keeping previous policy")
				continue
			}
			catalog.SetExtra(p.ExtraScopes())
			logger.WithField("scopes", len(p.Scopes)).Info("policy reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("policy watcher error")
		}
	}
}
