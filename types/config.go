package types

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string          `yaml:"name" json:"name" validate:"required"`
	Version     string          `yaml:"version" json:"version" validate:"required"`
	Environment string          `yaml:"environment" json:"environment"`
	Server      *ServerConfig   `yaml:"server" json:"server"`
	Logger      *LoggerConfig   `yaml:"logger" json:"logger"`
	Database    *DatabaseConfig `yaml:"database" json:"database" validate:"required"`
	Local       *LocalConfig    `yaml:"local" json:"local"`
	Content     *ContentConfig  `yaml:"content" json:"content" validate:"required"`
	Monitor     *MonitorConfig  `yaml:"monitor" json:"monitor"`
	Metrics     *MetricsConfig  `yaml:"metrics" json:"metrics"`
	Cron        *CronConfig     `yaml:"cron" json:"cron"`
}

type ServerConfig struct {
	HTTP *HTTPConfig `yaml:"http" json:"http"`
}

type HTTPConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     int    `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

type DatabaseConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"required"`
	Path   string      `yaml:"path" json:"path"`
	Config interface{} `yaml:"config" json:"config"`
}

type LocalConfig struct {
	Path      string `yaml:"path" json:"path" validate:"required"`
	BackupDir string `yaml:"backup_dir" json:"backup_dir"`
	// Fallback serves the local snapshot when the remote store is unreachable and nothing is cached.
	Fallback bool `yaml:"fallback" json:"fallback"`
}

type ContentConfig struct {
	PolicyFile   string                   `yaml:"policy_file" json:"policy_file"`
	Global       GlobalPolicy             `yaml:"global" json:"global"`
	Environments map[string]GlobalOverlay `yaml:"environments" json:"environments"`
	Policies     []ContentPolicy          `yaml:"policies" json:"policies" validate:"dive"`
	Pages        []PageConfig             `yaml:"pages" json:"pages" validate:"dive"`
}

type MonitorConfig struct {
	Capacity int `yaml:"capacity" json:"capacity" validate:"min=0"`
	// Schedule is the cron spec of the periodic monitoring job started by start-monitoring.
	Schedule string `yaml:"schedule" json:"schedule"`
	// AutoStart starts the monitoring job together with the service.
	AutoStart bool `yaml:"auto_start" json:"auto_start"`
}

type CronConfig struct {
	Timezone string `yaml:"timezone" json:"timezone"`
}

type MetricsConfig struct {
	Enabled bool              `yaml:"enabled" json:"enabled"`
	Type    string            `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config  interface{}       `yaml:"config" json:"config"`
	Labels  map[string]string `yaml:"labels" json:"labels"`
	Path    string            `yaml:"path" json:"path"`
}
