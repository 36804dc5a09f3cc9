package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/saiset-co/sai-content/types"
)

type Option func(*Manager)

// WithEnvironmentVariables replaces the process environment used for the
// CONTENT_* overlay. Tests use it to stay hermetic.
func WithEnvironmentVariables(vars map[string]string) Option {
	return func(m *Manager) {
		m.envVars = vars
	}
}

// Manager resolves content policies. The table is fixed at construction;
// SetContentConfig layers runtime overrides on top of it.
type Manager struct {
	mu          sync.RWMutex
	base        map[string]types.ContentPolicy
	overrides   map[string]types.ContentPolicy
	pages       []types.PageConfig
	global      types.GlobalPolicy
	environment string
	envVars     map[string]string
	validator   *validator.Validate
}

func NewManager(content *types.ContentConfig, environment string, opts ...Option) (*Manager, error) {
	if content == nil {
		content = &types.ContentConfig{}
	}

	m := &Manager{
		base:        make(map[string]types.ContentPolicy),
		overrides:   make(map[string]types.ContentPolicy),
		environment: environment,
		validator:   validator.New(),
	}

	for _, opt := range opts {
		opt(m)
	}

	policies := content.Policies
	pages := content.Pages
	if len(policies) == 0 {
		policies = DefaultPolicies()
		if len(pages) == 0 {
			pages = DefaultPages()
		}
	}

	for _, p := range policies {
		m.base[p.Key] = normalizePolicy(p)
	}
	m.pages = append(m.pages, pages...)

	environments := content.Environments
	if len(environments) == 0 {
		environments = DefaultEnvironments()
	}

	global, err := m.resolveGlobal(content.Global, environments[environment])
	if err != nil {
		return nil, err
	}
	m.global = global

	return m, nil
}

func normalizePolicy(p types.ContentPolicy) types.ContentPolicy {
	if p.Priority == "" {
		p.Priority = types.PriorityMedium
	}
	if p.Dependencies == nil {
		p.Dependencies = []string{}
	}
	return p
}

func (m *Manager) resolveGlobal(base types.GlobalPolicy, overlay types.GlobalOverlay) (types.GlobalPolicy, error) {
	global := applyOverlay(base, overlay)

	opts := env.Options{}
	if m.envVars != nil {
		opts.Environment = m.envVars
	}

	if err := env.ParseWithOptions(&global, opts); err != nil {
		return types.GlobalPolicy{}, types.Errorf(types.ErrPolicyInvalid, "environment overlay: %v", err)
	}

	if global.DefaultCacheStrategy == "" {
		global.DefaultCacheStrategy = types.CacheStrategyIncremental
	}

	return global, nil
}

func applyOverlay(base types.GlobalPolicy, overlay types.GlobalOverlay) types.GlobalPolicy {
	if overlay.DefaultRevalidate != nil {
		base.DefaultRevalidate = *overlay.DefaultRevalidate
	}
	if overlay.DefaultCacheStrategy != nil {
		base.DefaultCacheStrategy = *overlay.DefaultCacheStrategy
	}
	if overlay.EnableRealtime != nil {
		base.EnableRealtime = *overlay.EnableRealtime
	}
	if overlay.CacheTimeout != nil {
		base.CacheTimeout = *overlay.CacheTimeout
	}
	if overlay.RetryAttempts != nil {
		base.RetryAttempts = *overlay.RetryAttempts
	}
	if overlay.RetryDelay != nil {
		base.RetryDelay = *overlay.RetryDelay
	}
	if overlay.Collection != nil {
		base.Collection = *overlay.Collection
	}
	if overlay.Source != nil {
		base.Source = *overlay.Source
	}
	if overlay.Version != nil {
		base.Version = *overlay.Version
	}
	return base
}

func (m *Manager) Environment() string {
	return m.environment
}

// GetContentConfig never fails: unknown keys get a policy built from the global defaults.
func (m *Manager) GetContentConfig(key string) types.ContentPolicy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.lookup(key); ok {
		p.Dependencies = append([]string{}, p.Dependencies...)
		return p
	}

	return types.ContentPolicy{
		Key:               key,
		RevalidateSeconds: m.global.DefaultRevalidate,
		CacheStrategy:     m.global.DefaultCacheStrategy,
		Priority:          types.PriorityMedium,
		Realtime:          m.global.EnableRealtime,
		Dependencies:      []string{},
	}
}

func (m *Manager) lookup(key string) (types.ContentPolicy, bool) {
	if p, ok := m.overrides[key]; ok {
		return p, true
	}
	p, ok := m.base[key]
	return p, ok
}

func (m *Manager) GetGlobalConfig() types.GlobalPolicy {
	return m.global
}

func (m *Manager) GetDependentKeys(changedKey string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var dependents []string
	for _, key := range m.keysLocked() {
		p, _ := m.lookup(key)
		for _, dep := range p.Dependencies {
			if dep == changedKey {
				dependents = append(dependents, key)
				break
			}
		}
	}

	return dependents
}

func (m *Manager) GetAffectedPages(contentKey string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pages []string
	for _, page := range m.pages {
		for _, key := range page.ContentKeys {
			if key == contentKey {
				pages = append(pages, page.Name)
				break
			}
		}
	}

	sort.Strings(pages)
	return pages
}

// ValidateConfig reports dangling page references and dependencies. It never
// blocks reads or writes; callers decide whether invalidity is fatal.
func (m *Manager) ValidateConfig() types.ValidationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := make([]string, 0)

	for _, key := range m.keysLocked() {
		p, _ := m.lookup(key)
		if err := m.validator.Struct(p); err != nil {
			errs = append(errs, fmt.Sprintf("content %q has an invalid policy: %v", key, err))
		}
	}

	for _, page := range m.pages {
		for _, key := range page.ContentKeys {
			if _, ok := m.lookup(key); !ok {
				errs = append(errs, fmt.Sprintf("page %q references unknown content key %q", page.Name, key))
			}
		}
	}

	for _, key := range m.keysLocked() {
		p, _ := m.lookup(key)
		for _, dep := range p.Dependencies {
			if _, ok := m.lookup(dep); !ok {
				errs = append(errs, fmt.Sprintf("content %q depends on unknown content key %q", key, dep))
			}
		}
	}

	return types.ValidationResult{
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}

// Keys returns every policy key, sorted.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keysLocked()
}

func (m *Manager) keysLocked() []string {
	keys := make([]string, 0, len(m.base)+len(m.overrides))
	for k := range m.base {
		keys = append(keys, k)
	}
	for k := range m.overrides {
		if _, ok := m.base[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (m *Manager) Pages() []types.PageConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.PageConfig(nil), m.pages...)
}

// SetContentConfig overrides one policy at runtime.
func (m *Manager) SetContentConfig(p types.ContentPolicy) error {
	if p.Key == "" {
		return types.ErrCacheKeyEmpty
	}

	p = normalizePolicy(p)
	if err := m.validator.Struct(p); err != nil {
		return types.Errorf(types.ErrPolicyInvalid, "%v", err)
	}

	m.mu.Lock()
	m.overrides[p.Key] = p
	m.mu.Unlock()

	return nil
}

func (m *Manager) ResetOverrides() {
	m.mu.Lock()
	m.overrides = make(map[string]types.ContentPolicy)
	m.mu.Unlock()
}
