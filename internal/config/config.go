package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Source      Source      `yaml:"source"`
	Destination Destination `yaml:"destination"`
	Account     Account     `yaml:"account"`
	Transfer    Transfer    `yaml:"transfer"`
	Journal     Journal     `yaml:"journal"`
	Metrics     Metrics     `yaml:"metrics"`
	Archive     Archive     `yaml:"archive"`
	LogLevel    string      `yaml:"log_level"`
}

// Source describes the server the account is moved from
type Source struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	APIPort  int    `yaml:"api_port"`
	APIPath  string `yaml:"api_path"`
}

// Destination describes the server the account is moved to
type Destination struct {
	Host         string `yaml:"host"`
	RootUser     string `yaml:"root_user"`
	RootPassword string `yaml:"root_password"`
}

// Account identifies the hosting account being migrated
type Account struct {
	Username  string `yaml:"username"`
	Domain    string `yaml:"domain"`
	Overwrite bool   `yaml:"overwrite"`
}

// Transfer holds the pipeline tuning knobs
type Transfer struct {
	PollIntervalSec   int    `yaml:"poll_interval_sec"`
	PollCeilingSec    int    `yaml:"poll_ceiling_sec"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	LocalRoot         string `yaml:"local_root"`
	RemoteRoot        string `yaml:"remote_root"`
	RestoreCommand    string `yaml:"restore_command"`
}

// Journal configures the migration history database
type Journal struct {
	Path string `yaml:"path"`
}

// Metrics configures the Prometheus endpoint
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Archive configures optional retention of backup artifacts in
// S3-compatible storage
type Archive struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// PollInterval returns the delay between backup status checks
func (t Transfer) PollInterval() time.Duration {
	return time.Duration(t.PollIntervalSec) * time.Second
}

// PollCeiling returns the overall time allowed for a backup to become ready
func (t Transfer) PollCeiling() time.Duration {
	return time.Duration(t.PollCeilingSec) * time.Second
}

// ConnectTimeout returns the SSH/TCP connect timeout
func (t Transfer) ConnectTimeout() time.Duration {
	return time.Duration(t.ConnectTimeoutSec) * time.Second
}

// RequestTimeout returns the per-request timeout for job-control calls
func (t Transfer) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutSec) * time.Second
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Source: Source{
			APIPort: 2083,
			APIPath: "/backup",
		},
		Transfer: Transfer{
			PollIntervalSec:   10,
			PollCeilingSec:    600,
			ConnectTimeoutSec: 30,
			RequestTimeoutSec: 30,
			LocalRoot:         os.TempDir(),
			RemoteRoot:        "/home",
			RestoreCommand:    "/scripts/restorepkg",
		},
		Journal: Journal{
			Path: "./cpmigrate.db",
		},
		Metrics: Metrics{
			Addr: ":9100",
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Secrets may come from the environment (or a .env file) instead of
	// the config file or command line
	loadFromEnv(cfg)

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv("CPMIGRATE_SRC_PASSWORD"); v != "" {
		cfg.Source.Password = v
	}
	if v := os.Getenv("CPMIGRATE_DST_ROOT_PASSWORD"); v != "" {
		cfg.Destination.RootPassword = v
	}
	if v := os.Getenv("CPMIGRATE_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("CPMIGRATE_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("src-host") {
		cfg.Source.Host, _ = flags.GetString("src-host")
	}
	if flags.Changed("src-user") {
		cfg.Source.User, _ = flags.GetString("src-user")
	}
	if flags.Changed("src-password") {
		cfg.Source.Password, _ = flags.GetString("src-password")
	}
	if flags.Changed("src-api-port") {
		cfg.Source.APIPort, _ = flags.GetInt("src-api-port")
	}
	if flags.Changed("src-api-path") {
		cfg.Source.APIPath, _ = flags.GetString("src-api-path")
	}

	if flags.Changed("dst-host") {
		cfg.Destination.Host, _ = flags.GetString("dst-host")
	}
	if flags.Changed("dst-root-user") {
		cfg.Destination.RootUser, _ = flags.GetString("dst-root-user")
	}
	if flags.Changed("dst-root-password") {
		cfg.Destination.RootPassword, _ = flags.GetString("dst-root-password")
	}

	if flags.Changed("username") {
		cfg.Account.Username, _ = flags.GetString("username")
	}
	if flags.Changed("domain") {
		cfg.Account.Domain, _ = flags.GetString("domain")
	}
	if flags.Changed("overwrite") {
		cfg.Account.Overwrite, _ = flags.GetBool("overwrite")
	}

	if flags.Changed("poll-interval") {
		cfg.Transfer.PollIntervalSec, _ = flags.GetInt("poll-interval")
	}
	if flags.Changed("poll-ceiling") {
		cfg.Transfer.PollCeilingSec, _ = flags.GetInt("poll-ceiling")
	}
	if flags.Changed("connect-timeout") {
		cfg.Transfer.ConnectTimeoutSec, _ = flags.GetInt("connect-timeout")
	}
	if flags.Changed("request-timeout") {
		cfg.Transfer.RequestTimeoutSec, _ = flags.GetInt("request-timeout")
	}
	if flags.Changed("local-root") {
		cfg.Transfer.LocalRoot, _ = flags.GetString("local-root")
	}
	if flags.Changed("remote-root") {
		cfg.Transfer.RemoteRoot, _ = flags.GetString("remote-root")
	}
	if flags.Changed("restore-command") {
		cfg.Transfer.RestoreCommand, _ = flags.GetString("restore-command")
	}

	if flags.Changed("journal") {
		cfg.Journal.Path, _ = flags.GetString("journal")
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled, _ = flags.GetBool("metrics")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}

	if flags.Changed("archive") {
		cfg.Archive.Enabled, _ = flags.GetBool("archive")
	}
	if flags.Changed("archive-endpoint") {
		cfg.Archive.Endpoint, _ = flags.GetString("archive-endpoint")
	}
	if flags.Changed("archive-access-key") {
		cfg.Archive.AccessKey, _ = flags.GetString("archive-access-key")
	}
	if flags.Changed("archive-secret-key") {
		cfg.Archive.SecretKey, _ = flags.GetString("archive-secret-key")
	}
	if flags.Changed("archive-bucket") {
		cfg.Archive.Bucket, _ = flags.GetString("archive-bucket")
	}
	if flags.Changed("archive-secure") {
		cfg.Archive.Secure, _ = flags.GetBool("archive-secure")
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("source host is required")
	}
	if c.Source.User == "" {
		return fmt.Errorf("source user is required")
	}
	if c.Source.Password == "" {
		return fmt.Errorf("source password is required")
	}

	if c.Destination.Host == "" {
		return fmt.Errorf("destination host is required")
	}
	if c.Destination.RootUser == "" {
		return fmt.Errorf("destination root user is required")
	}
	if c.Destination.RootPassword == "" {
		return fmt.Errorf("destination root password is required")
	}

	if c.Account.Username == "" {
		return fmt.Errorf("username is required")
	}
	if c.Account.Domain == "" {
		return fmt.Errorf("domain is required")
	}

	if c.Transfer.PollIntervalSec <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Transfer.PollCeilingSec < c.Transfer.PollIntervalSec {
		return fmt.Errorf("poll ceiling must be at least one poll interval")
	}
	if c.Transfer.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.Transfer.RestoreCommand == "" {
		return fmt.Errorf("restore command is required")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}

	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			return fmt.Errorf("archive endpoint is required when archiving is enabled")
		}
		if c.Archive.AccessKey == "" {
			return fmt.Errorf("archive access key is required when archiving is enabled")
		}
		if c.Archive.SecretKey == "" {
			return fmt.Errorf("archive secret key is required when archiving is enabled")
		}
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive bucket is required when archiving is enabled")
		}
	}

	return nil
}
