package types

import (
	"time"
)

type CacheStrategy string

const (
	CacheStrategyStatic      CacheStrategy = "static"
	CacheStrategyIncremental CacheStrategy = "incremental"
	CacheStrategyRealtime    CacheStrategy = "realtime"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	default:
		return "", Errorf(ErrPriorityUnknown, "%q", s)
	}
}

// AllContentKey is the reserved cache slot holding the whole content database.
const AllContentKey = "_all"

// ContentDatabase maps content keys to their structured documents.
type ContentDatabase map[string]interface{}

type ContentEntry struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	FetchedAt time.Time   `json:"fetched_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type ContentPolicy struct {
	Key               string        `yaml:"key" json:"key" validate:"required"`
	RevalidateSeconds int           `yaml:"revalidate" json:"revalidate" validate:"min=0"`
	CacheStrategy     CacheStrategy `yaml:"cache_strategy" json:"cache_strategy" validate:"omitempty,oneof=static incremental realtime"`
	Priority          Priority      `yaml:"priority" json:"priority" validate:"omitempty,oneof=high medium low"`
	Realtime          bool          `yaml:"realtime" json:"realtime"`
	Dependencies      []string      `yaml:"dependencies" json:"dependencies"`
}

// TTL is the revalidation interval of the policy. Zero means "use the global cache timeout".
func (p ContentPolicy) TTL() time.Duration {
	return time.Duration(p.RevalidateSeconds) * time.Second
}

type GlobalPolicy struct {
	DefaultRevalidate    int           `yaml:"default_revalidate" json:"default_revalidate" env:"CONTENT_DEFAULT_REVALIDATE" validate:"min=0"`
	DefaultCacheStrategy CacheStrategy `yaml:"default_cache_strategy" json:"default_cache_strategy" env:"CONTENT_DEFAULT_CACHE_STRATEGY" validate:"omitempty,oneof=static incremental realtime"`
	EnableRealtime       bool          `yaml:"enable_realtime" json:"enable_realtime" env:"CONTENT_ENABLE_REALTIME"`
	CacheTimeout         time.Duration `yaml:"cache_timeout" json:"cache_timeout" env:"CONTENT_CACHE_TIMEOUT" validate:"min=0"`
	RetryAttempts        int           `yaml:"retry_attempts" json:"retry_attempts" env:"CONTENT_RETRY_ATTEMPTS" validate:"min=0"`
	RetryDelay           time.Duration `yaml:"retry_delay" json:"retry_delay" env:"CONTENT_RETRY_DELAY" validate:"min=0"`
	Collection           string        `yaml:"collection" json:"collection" env:"CONTENT_COLLECTION"`
	Source               string        `yaml:"source" json:"source" env:"CONTENT_SOURCE"`
	Version              string        `yaml:"version" json:"version" env:"CONTENT_VERSION"`
}

// GlobalOverlay is the environment specific part of the global policy.
// Nil fields inherit the base value.
type GlobalOverlay struct {
	DefaultRevalidate    *int           `yaml:"default_revalidate" json:"default_revalidate,omitempty"`
	DefaultCacheStrategy *CacheStrategy `yaml:"default_cache_strategy" json:"default_cache_strategy,omitempty"`
	EnableRealtime       *bool          `yaml:"enable_realtime" json:"enable_realtime,omitempty"`
	CacheTimeout         *time.Duration `yaml:"cache_timeout" json:"cache_timeout,omitempty"`
	RetryAttempts        *int           `yaml:"retry_attempts" json:"retry_attempts,omitempty"`
	RetryDelay           *time.Duration `yaml:"retry_delay" json:"retry_delay,omitempty"`
	Collection           *string        `yaml:"collection" json:"collection,omitempty"`
	Source               *string        `yaml:"source" json:"source,omitempty"`
	Version              *string        `yaml:"version" json:"version,omitempty"`
}

type PageConfig struct {
	Name        string   `yaml:"name" json:"name" validate:"required"`
	ContentKeys []string `yaml:"content_keys" json:"content_keys"`
}

type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

type PolicyManager interface {
	GetContentConfig(key string) ContentPolicy
	GetGlobalConfig() GlobalPolicy
	GetDependentKeys(changedKey string) []string
	GetAffectedPages(contentKey string) []string
	ValidateConfig() ValidationResult
	Keys() []string
}
