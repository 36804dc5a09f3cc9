package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-content/types"
)

func newTestManager(t *testing.T, content *types.ContentConfig, environment string) *Manager {
	t.Helper()
	m, err := NewManager(content, environment, WithEnvironmentVariables(map[string]string{}))
	require.NoError(t, err)
	return m
}

func TestGetContentConfig_ExplicitAndDefaults(t *testing.T) {
	m := newTestManager(t, &types.ContentConfig{
		Global: types.GlobalPolicy{
			DefaultRevalidate:    900,
			DefaultCacheStrategy: types.CacheStrategyStatic,
			EnableRealtime:       true,
		},
		Environments: map[string]types.GlobalOverlay{"none": {}},
	}, "none")

	pricing := m.GetContentConfig("pricing")
	assert.Equal(t, 1800, pricing.RevalidateSeconds)
	assert.Equal(t, types.PriorityHigh, pricing.Priority)
	assert.Equal(t, []string{"features"}, pricing.Dependencies)

	unknown := m.GetContentConfig("banner")
	assert.Equal(t, "banner", unknown.Key)
	assert.Equal(t, 900, unknown.RevalidateSeconds)
	assert.Equal(t, types.CacheStrategyStatic, unknown.CacheStrategy)
	assert.Equal(t, types.PriorityMedium, unknown.Priority)
	assert.True(t, unknown.Realtime)
	assert.Empty(t, unknown.Dependencies)
}

func TestGetGlobalConfig_OverlayWinsFieldByField(t *testing.T) {
	retries := 7
	m := newTestManager(t, &types.ContentConfig{
		Global: types.GlobalPolicy{
			DefaultRevalidate: 3600,
			RetryAttempts:     3,
			RetryDelay:        time.Second,
		},
		Environments: map[string]types.GlobalOverlay{
			"staging": {RetryAttempts: &retries},
		},
	}, "staging")

	global := m.GetGlobalConfig()
	assert.Equal(t, 7, global.RetryAttempts)
	assert.Equal(t, 3600, global.DefaultRevalidate)
	assert.Equal(t, time.Second, global.RetryDelay)
}

func TestGetGlobalConfig_EnvironmentVariablesOverride(t *testing.T) {
	m, err := NewManager(&types.ContentConfig{
		Global: types.GlobalPolicy{RetryAttempts: 3},
	}, "production", WithEnvironmentVariables(map[string]string{
		"CONTENT_RETRY_ATTEMPTS":  "9",
		"CONTENT_ENABLE_REALTIME": "false",
		"CONTENT_RETRY_DELAY":     "50ms",
	}))
	require.NoError(t, err)

	global := m.GetGlobalConfig()
	assert.Equal(t, 9, global.RetryAttempts)
	assert.False(t, global.EnableRealtime)
	assert.Equal(t, 50*time.Millisecond, global.RetryDelay)
}

func TestNewManager_BadEnvironmentVariable(t *testing.T) {
	_, err := NewManager(nil, "test", WithEnvironmentVariables(map[string]string{
		"CONTENT_RETRY_ATTEMPTS": "many",
	}))
	assert.ErrorIs(t, err, types.ErrPolicyInvalid)
}

func TestGetDependentKeysAndAffectedPages(t *testing.T) {
	m := newTestManager(t, nil, "test")

	assert.Equal(t, []string{"pricing"}, m.GetDependentKeys("features"))
	assert.Equal(t, []string{"checkout"}, m.GetDependentKeys("pricing"))
	assert.Empty(t, m.GetDependentKeys("hero"))

	assert.Equal(t, []string{"checkout", "home", "pricing"}, m.GetAffectedPages("pricing"))
	assert.Equal(t, []string{"home"}, m.GetAffectedPages("hero"))
}

func TestValidateConfig_DefaultTableIsValid(t *testing.T) {
	result := newTestManager(t, nil, "test").ValidateConfig()
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
}

func TestValidateConfig_DanglingDependencyReportedOnce(t *testing.T) {
	m := newTestManager(t, &types.ContentConfig{
		Policies: []types.ContentPolicy{
			{Key: "A", RevalidateSeconds: 60},
			{Key: "B", RevalidateSeconds: 60, Dependencies: []string{"A", "Z"}},
		},
	}, "test")

	result := m.ValidateConfig()
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `"B"`)
	assert.Contains(t, result.Errors[0], `"Z"`)
}

func TestValidateConfig_PageReferencesUnknownKey(t *testing.T) {
	m := newTestManager(t, &types.ContentConfig{
		Policies: []types.ContentPolicy{{Key: "hero"}},
		Pages:    []types.PageConfig{{Name: "landing", ContentKeys: []string{"hero", "banner"}}},
	}, "test")

	result := m.ValidateConfig()
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "landing")
	assert.Contains(t, result.Errors[0], "banner")
}

func TestSetContentConfigAndReset(t *testing.T) {
	m := newTestManager(t, nil, "test")

	require.NoError(t, m.SetContentConfig(types.ContentPolicy{Key: "pricing", RevalidateSeconds: 5}))
	assert.Equal(t, 5, m.GetContentConfig("pricing").RevalidateSeconds)
	assert.Equal(t, types.PriorityMedium, m.GetContentConfig("pricing").Priority)

	require.NoError(t, m.SetContentConfig(types.ContentPolicy{Key: "banner", Dependencies: []string{"hero"}}))
	assert.Contains(t, m.Keys(), "banner")
	assert.Equal(t, []string{"banner"}, m.GetDependentKeys("hero"))

	err := m.SetContentConfig(types.ContentPolicy{Key: "bad", Priority: "urgent"})
	assert.ErrorIs(t, err, types.ErrPolicyInvalid)

	m.ResetOverrides()
	assert.Equal(t, 1800, m.GetContentConfig("pricing").RevalidateSeconds)
	assert.NotContains(t, m.Keys(), "banner")
}
