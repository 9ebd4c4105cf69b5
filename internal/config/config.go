package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gasexchange-platform/internal/artifacts"
	"gasexchange-platform/internal/medlyn"
	"gasexchange-platform/pkg/database"
	"gasexchange-platform/pkg/logging"
)

// EnvConfigPath names the environment variable holding the YAML config path.
const EnvConfigPath = "GASX_CONFIG"

// Config holds all platform configuration.
type Config struct {
	Database  DatabaseConfig   `yaml:"database"`
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Fit       FitConfig        `yaml:"fit"`
	Artifacts artifacts.Config `yaml:"artifacts"`
}

// DatabaseConfig configures the run store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres, sqlite
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// FitConfig configures loading and the Medlyn fit.
type FitConfig struct {
	StartG0           float64 `yaml:"start_g0"`
	StartG1           float64 `yaml:"start_g1"`
	MaxIterations     int     `yaml:"max_iterations"`
	GradientThreshold float64 `yaml:"gradient_threshold"`
	StrictRank        bool    `yaml:"strict_rank"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	fit := medlyn.DefaultOptions()
	return &Config{
		Database: DatabaseConfig{
			Driver:          database.DriverPostgres,
			Host:            "localhost",
			Port:            5432,
			User:            "gasx",
			Database:        "gasexchange",
			SSLMode:         "disable",
			Path:            "gasexchange.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Fit: FitConfig{
			StartG0:           fit.Start.G0,
			StartG1:           fit.Start.G1,
			MaxIterations:     fit.MaxIterations,
			GradientThreshold: fit.GradientThreshold,
		},
		Artifacts: artifacts.Config{
			Driver: artifacts.DriverLocal,
			Dir:    ".",
			Region: "us-east-1",
		},
	}
}

// LoadConfig loads the file named by GASX_CONFIG, if any, then applies
// GASX_* environment overrides.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(EnvConfigPath))
}

// Load reads a YAML config from path over the defaults. An empty path skips
// the file. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"GASX_DB_DRIVER":        &c.Database.Driver,
		"GASX_DB_HOST":          &c.Database.Host,
		"GASX_DB_USER":          &c.Database.User,
		"GASX_DB_PASSWORD":      &c.Database.Password,
		"GASX_DB_NAME":          &c.Database.Database,
		"GASX_DB_SSLMODE":       &c.Database.SSLMode,
		"GASX_DB_PATH":          &c.Database.Path,
		"GASX_SERVER_HOST":      &c.Server.Host,
		"GASX_LOG_LEVEL":        &c.Logging.Level,
		"GASX_ARTIFACTS_DRIVER": &c.Artifacts.Driver,
		"GASX_ARTIFACTS_DIR":    &c.Artifacts.Dir,
		"GASX_S3_BUCKET":        &c.Artifacts.Bucket,
		"GASX_S3_PREFIX":        &c.Artifacts.Prefix,
		"GASX_S3_REGION":        &c.Artifacts.Region,
		"GASX_S3_ENDPOINT":      &c.Artifacts.Endpoint,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"GASX_DB_PORT":            &c.Database.Port,
		"GASX_DB_MAX_OPEN_CONNS":  &c.Database.MaxOpenConns,
		"GASX_SERVER_PORT":        &c.Server.Port,
		"GASX_FIT_MAX_ITERATIONS": &c.Fit.MaxIterations,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	floats := map[string]*float64{
		"GASX_FIT_START_G0": &c.Fit.StartG0,
		"GASX_FIT_START_G1": &c.Fit.StartG1,
	}
	for key, dst := range floats {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = f
	}

	bools := map[string]*bool{
		"GASX_FIT_STRICT_RANK": &c.Fit.StrictRank,
		"GASX_S3_PATH_STYLE":   &c.Artifacts.PathStyle,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = b
	}

	return nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var problems []string

	switch c.Database.Driver {
	case database.DriverPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			problems = append(problems, "database.host and database.database are required for postgres")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "database.port must be between 1 and 65535")
		}
	case database.DriverSQLite:
		if c.Database.Path == "" {
			problems = append(problems, "database.path is required for sqlite")
		}
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not recognised", c.Logging.Level))
	}

	if c.Fit.MaxIterations <= 0 {
		problems = append(problems, "fit.max_iterations must be positive")
	}

	switch c.Artifacts.Driver {
	case artifacts.DriverLocal:
	case artifacts.DriverS3:
		if c.Artifacts.Bucket == "" {
			problems = append(problems, "artifacts.bucket is required for s3")
		}
	default:
		problems = append(problems, fmt.Sprintf("artifacts.driver %q is not supported", c.Artifacts.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Connection converts to the connection settings of pkg/database.
func (d DatabaseConfig) Connection() *database.Config {
	return &database.Config{
		Driver:          d.Driver,
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		Path:            d.Path,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// Options converts to fit options.
func (f FitConfig) Options() medlyn.Options {
	return medlyn.Options{
		Start:             medlyn.Params{G0: f.StartG0, G1: f.StartG1},
		MaxIterations:     f.MaxIterations,
		GradientThreshold: f.GradientThreshold,
	}
}

// LogLevel returns the configured level.
func (l LoggingConfig) LogLevel() logging.LogLevel {
	return logging.ParseLevel(l.Level)
}
