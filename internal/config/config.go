package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the matchd configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Auth        AuthConfig        `yaml:"auth"`
	Database    DatabaseConfig    `yaml:"database"`
	Scoring     ScoringConfig     `yaml:"scoring"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Media       MediaConfig       `yaml:"media"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig protects the ops endpoints other than probes.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds ops HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds report store connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
	PageSize         int      `yaml:"page_size"`
}

// ScoringConfig lists the scoring sources.
type ScoringConfig struct {
	HealthTimeoutSec int            `yaml:"health_timeout_sec"`
	Sources          []SourceConfig `yaml:"sources"`
}

// SourceConfig describes one scoring service.
type SourceConfig struct {
	Name          string  `yaml:"name"`
	URL           string  `yaml:"url"`
	TimeoutSec    int     `yaml:"timeout_sec"`
	Retries       int     `yaml:"retries"`
	RequiresMedia bool    `yaml:"requires_media"`
	ScoreMin      float64 `yaml:"score_min"` // with score_max: linear rescale to [0,1]
	ScoreMax      float64 `yaml:"score_max"`
}

// CoordinatorConfig holds loop settings.
type CoordinatorConfig struct {
	IntervalSec      int  `yaml:"interval_sec"`
	Workers          int  `yaml:"workers"`
	MaxStoreFailures int  `yaml:"max_store_failures"` // 0 = never terminate
	LeaseEnabled     bool `yaml:"lease_enabled"`
	LeaseTTLSec      int  `yaml:"lease_ttl_sec"` // lock validity, extended while held; 0 = 2x interval
}

// MediaConfig selects the media resolver.
type MediaConfig struct {
	Driver string         `yaml:"driver"` // none, dir, gcs
	Dir    MediaDirConfig `yaml:"dir"`
	GCS    MediaGCSConfig `yaml:"gcs"`
}

// MediaDirConfig holds local media settings.
type MediaDirConfig struct {
	BasePath string `yaml:"base_path"`
}

// MediaGCSConfig holds Google Cloud Storage media settings.
type MediaGCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	URLTTLSec       int    `yaml:"url_ttl_sec"` // 0 = gs:// locations instead of signed URLs
	CredentialsFile string `yaml:"credentials_file"`
}

// Database drivers.
const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
)

// Media drivers.
const (
	MediaNone = "none"
	MediaDir  = "dir"
	MediaGCS  = "gcs"
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverRedis
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "matchd:"
	}
	if c.Database.PageSize <= 0 {
		c.Database.PageSize = 200
	}
	if c.Scoring.HealthTimeoutSec <= 0 {
		c.Scoring.HealthTimeoutSec = 5
	}
	for i := range c.Scoring.Sources {
		if c.Scoring.Sources[i].TimeoutSec <= 0 {
			c.Scoring.Sources[i].TimeoutSec = 30
		}
	}
	if c.Coordinator.IntervalSec <= 0 {
		c.Coordinator.IntervalSec = 30
	}
	if c.Coordinator.Workers <= 0 {
		c.Coordinator.Workers = 4
	}
	if c.Coordinator.LeaseTTLSec <= 0 {
		c.Coordinator.LeaseTTLSec = 2 * c.Coordinator.IntervalSec
	}
	if c.Media.Driver == "" {
		c.Media.Driver = MediaNone
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.Driver != DriverRedis && c.Database.Driver != DriverValkey {
		return fmt.Errorf("database.driver must be \"redis\" or \"valkey\", got %q", c.Database.Driver)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Coordinator.MaxStoreFailures < 0 {
		return fmt.Errorf("coordinator.max_store_failures must be >= 0, got %d", c.Coordinator.MaxStoreFailures)
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	return c.validateMedia()
}

func (c *Config) validateSources() error {
	if len(c.Scoring.Sources) == 0 {
		return fmt.Errorf("scoring.sources: at least one source is required")
	}
	seen := make(map[string]struct{}, len(c.Scoring.Sources))
	for i, s := range c.Scoring.Sources {
		if s.Name == "" {
			return fmt.Errorf("scoring.sources[%d].name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("scoring.sources: duplicate name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.URL == "" {
			return fmt.Errorf("scoring.sources.%s.url is required", s.Name)
		}
		if s.Retries < 0 {
			return fmt.Errorf("scoring.sources.%s.retries must be >= 0, got %d", s.Name, s.Retries)
		}
		if (s.ScoreMin != 0 || s.ScoreMax != 0) && s.ScoreMax <= s.ScoreMin {
			return fmt.Errorf("scoring.sources.%s: score_max must be greater than score_min", s.Name)
		}
	}
	return nil
}

func (c *Config) validateMedia() error {
	needsMedia := false
	for _, s := range c.Scoring.Sources {
		needsMedia = needsMedia || s.RequiresMedia
	}

	switch c.Media.Driver {
	case MediaNone:
		if needsMedia {
			return fmt.Errorf("media.driver must be set when a source requires media")
		}
	case MediaDir:
		if c.Media.Dir.BasePath == "" {
			return fmt.Errorf("media.dir.base_path is required")
		}
	case MediaGCS:
		if c.Media.GCS.Bucket == "" {
			return fmt.Errorf("media.gcs.bucket is required")
		}
	default:
		return fmt.Errorf("media.driver must be \"none\", \"dir\" or \"gcs\", got %q", c.Media.Driver)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
