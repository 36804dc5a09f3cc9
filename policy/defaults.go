package policy

import (
	"time"

	"github.com/saiset-co/sai-content/types"
)

// DefaultPolicies is the content table shipped with the service. It is used
// when the configuration does not declare any policies.
func DefaultPolicies() []types.ContentPolicy {
	return []types.ContentPolicy{
		{Key: "hero", RevalidateSeconds: 3600, CacheStrategy: types.CacheStrategyStatic, Priority: types.PriorityHigh},
		{Key: "pricing", RevalidateSeconds: 1800, CacheStrategy: types.CacheStrategyIncremental, Priority: types.PriorityHigh, Realtime: true, Dependencies: []string{"features"}},
		{Key: "features", RevalidateSeconds: 7200, CacheStrategy: types.CacheStrategyStatic, Priority: types.PriorityMedium},
		{Key: "faq", RevalidateSeconds: 86400, CacheStrategy: types.CacheStrategyStatic, Priority: types.PriorityLow},
		{Key: "testimonials", RevalidateSeconds: 43200, CacheStrategy: types.CacheStrategyIncremental, Priority: types.PriorityLow},
		{Key: "navigation", RevalidateSeconds: 86400, CacheStrategy: types.CacheStrategyStatic, Priority: types.PriorityMedium},
		{Key: "footer", RevalidateSeconds: 86400, CacheStrategy: types.CacheStrategyStatic, Priority: types.PriorityLow, Dependencies: []string{"navigation"}},
		{Key: "checkout", RevalidateSeconds: 300, CacheStrategy: types.CacheStrategyRealtime, Priority: types.PriorityHigh, Realtime: true, Dependencies: []string{"pricing"}},
	}
}

func DefaultPages() []types.PageConfig {
	return []types.PageConfig{
		{Name: "home", ContentKeys: []string{"hero", "features", "testimonials", "pricing", "navigation", "footer"}},
		{Name: "pricing", ContentKeys: []string{"pricing", "faq", "navigation", "footer"}},
		{Name: "checkout", ContentKeys: []string{"checkout", "pricing"}},
	}
}

func DefaultEnvironments() map[string]types.GlobalOverlay {
	devRevalidate := 60
	devRetries := 1
	prodRealtime := true
	prodTimeout := 10 * time.Minute
	testRevalidate := 1
	testRetries := 1
	testDelay := time.Duration(0)

	return map[string]types.GlobalOverlay{
		"development": {
			DefaultRevalidate: &devRevalidate,
			RetryAttempts:     &devRetries,
		},
		"production": {
			EnableRealtime: &prodRealtime,
			CacheTimeout:   &prodTimeout,
		},
		"test": {
			DefaultRevalidate: &testRevalidate,
			RetryAttempts:     &testRetries,
			RetryDelay:        &testDelay,
		},
	}
}
