package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-content/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadFromFile reads the service YAML over Defaults, pulls in an external
// policy file when one is referenced and validates the result.
func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.Errorf(types.ErrConfigLoadFailed, "read %s: %v", configPath, err)
	}

	config, raw, err := l.Parse(data)
	if err != nil {
		return nil, nil, err
	}

	if config.Content.PolicyFile != "" {
		policyPath := config.Content.PolicyFile
		if !filepath.IsAbs(policyPath) {
			policyPath = filepath.Join(filepath.Dir(configPath), policyPath)
		}

		if err := l.loadPolicyFile(ctx, policyPath, config.Content); err != nil {
			return nil, nil, err
		}
	}

	if err := l.Validate(config); err != nil {
		return nil, nil, err
	}

	return config, raw, nil
}

// Parse decodes YAML bytes over Defaults without touching the filesystem.
func (l *Loader) Parse(data []byte) (*types.ServiceConfig, map[string]interface{}, error) {
	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	raw := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, types.Errorf(types.ErrConfigParseFailed, "%v", err)
	}

	return config, raw, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if err := l.validator.Struct(config); err != nil {
		return types.Errorf(types.ErrConfigValidateFailed, "%v", err)
	}
	return nil
}

func (l *Loader) loadPolicyFile(ctx context.Context, path string, content *types.ContentConfig) error {
	data, err := l.ReadFileWithTimeout(ctx, path)
	if err != nil {
		return types.WrapError(err, "failed to read policy file")
	}

	var file types.ContentConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return types.Errorf(types.ErrConfigParseFailed, "policy file %s: %v", path, err)
	}

	content.Policies = append(content.Policies, file.Policies...)
	content.Pages = append(content.Pages, file.Pages...)

	if content.Environments == nil {
		content.Environments = make(map[string]types.GlobalOverlay)
	}
	for name, overlay := range file.Environments {
		content.Environments[name] = overlay
	}

	return nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:        "sai-content",
		Version:     "dev",
		Environment: "development",
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Enabled:         true,
				Host:            "localhost",
				Port:            8080,
				ReadTimeout:     30,
				WriteTimeout:    30,
				IdleTimeout:     120,
				ShutdownTimeout: 5,
			},
		},
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Database: &types.DatabaseConfig{
			Type: "memory",
		},
		Local: &types.LocalConfig{
			Path:      "data/content.json",
			BackupDir: "data/backups",
			Fallback:  true,
		},
		Content: &types.ContentConfig{
			Global: types.GlobalPolicy{
				DefaultRevalidate:    3600,
				DefaultCacheStrategy: types.CacheStrategyIncremental,
				EnableRealtime:       false,
				CacheTimeout:         5 * time.Minute,
				RetryAttempts:        3,
				RetryDelay:           time.Second,
				Collection:           "content",
				Source:               "sai-content",
				Version:              "1.0.0",
			},
		},
		Monitor: &types.MonitorConfig{
			Capacity: 1000,
			Schedule: "@every 1m",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
			Path:    "/metrics",
		},
		Cron: &types.CronConfig{
			Timezone: "UTC",
		},
	}
}
