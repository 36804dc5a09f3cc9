package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-content/types"
)

const serviceYAML = `
name: marketing-content
version: 2.1.0
environment: production
database:
  type: clover
  path: ./data/clover
content:
  policy_file: policies.yaml
  global:
    default_revalidate: 600
    retry_attempts: 5
    retry_delay: 250ms
  environments:
    production:
      enable_realtime: true
  policies:
    - key: hero
      revalidate: 3600
      priority: high
`

const policiesYAML = `
policies:
  - key: pricing
    revalidate: 1800
    priority: high
    dependencies: [features]
  - key: features
    revalidate: 7200
pages:
  - name: home
    content_keys: [hero, pricing]
environments:
  test:
    retry_attempts: 0
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFile_MergesDefaultsAndPolicyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "service.yaml", serviceYAML)
	writeFile(t, dir, "policies.yaml", policiesYAML)

	cfg, raw, err := NewLoader().LoadFromFile(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, raw)

	assert.Equal(t, "marketing-content", cfg.Name)
	assert.Equal(t, "clover", cfg.Database.Type)
	assert.Equal(t, 8080, cfg.Server.HTTP.Port)

	global := cfg.Content.Global
	assert.Equal(t, 600, global.DefaultRevalidate)
	assert.Equal(t, 5, global.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, global.RetryDelay)
	assert.Equal(t, types.CacheStrategyIncremental, global.DefaultCacheStrategy)

	keys := make([]string, 0, len(cfg.Content.Policies))
	for _, p := range cfg.Content.Policies {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"hero", "pricing", "features"}, keys)
	require.Len(t, cfg.Content.Pages, 1)
	assert.Contains(t, cfg.Content.Environments, "production")
	assert.Contains(t, cfg.Content.Environments, "test")
}

func TestLoadFromFile_RejectsInvalidEnum(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "service.yaml", `
name: svc
version: 1.0.0
content:
  policies:
    - key: hero
      priority: urgent
`)

	_, _, err := NewLoader().LoadFromFile(context.Background(), path)
	assert.ErrorIs(t, err, types.ErrConfigValidateFailed)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, _, err := NewLoader().LoadFromFile(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigurationManager_PathLookups(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "service.yaml", serviceYAML)
	writeFile(t, dir, "policies.yaml", policiesYAML)

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "clover", cm.GetValue("database.type", ""))
	assert.Equal(t, "fallback", cm.GetValue("database.missing", "fallback"))

	var global types.GlobalPolicy
	require.NoError(t, cm.GetAs("content.global", &global))
	assert.Equal(t, 5, global.RetryAttempts)

	assert.ErrorIs(t, cm.GetAs("content.nothing", &global), types.ErrConfigNotFound)
	assert.Contains(t, cm.GetAllPaths(), "content.global.retry_attempts")
}

func TestStaticManager_ReloadWithoutPath(t *testing.T) {
	cm := NewStaticManager(context.Background(), NewLoader().Defaults())
	assert.Equal(t, "sai-content", cm.GetConfig().Name)
	assert.ErrorIs(t, cm.Load(), types.ErrConfigInvalidPath)
}

func TestLoadFromFile_ExampleConfig(t *testing.T) {
	config, _, err := NewLoader().LoadFromFile(context.Background(), filepath.Join("..", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "clover", config.Database.Type)
	assert.Equal(t, 5*time.Minute, config.Content.Global.CacheTimeout)
	assert.Equal(t, time.Second, config.Content.Global.RetryDelay)
	assert.Len(t, config.Content.Policies, 7)
	assert.True(t, config.Monitor.AutoStart)
	assert.Equal(t, "prometheus", config.Metrics.Type)
}
