package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"inertiavault/internal/iv"

	"github.com/BurntSushi/toml"
)

// Defaults applied to fields a config file leaves out.
const (
	DefaultBlockSize   = 1 << 20
	DefaultStagingSize = 16 << 30
	DefaultConcurrency = 2
	DefaultLogLevel    = "info"
)

// Config represents the main configuration for iv.
type Config struct {
	HostID       string              `toml:"host_id"`
	BaseDir      string              `toml:"base_dir"`
	LogDir       string              `toml:"log_dir"`
	LogLevel     string              `toml:"log_level"`
	Destinations []DestinationConfig `toml:"destinations"`
	Encryption   EncryptionConfig    `toml:"encryption"`
	Database     DatabaseConfig      `toml:"database"`
	Staging      StagingConfig       `toml:"staging"`
	Filesystem   FilesystemConfig    `toml:"filesystem"`
	Pipeline     PipelineConfig      `toml:"pipeline"`
	Scheduler    SchedulerConfig     `toml:"scheduler"`
}

// EncryptionConfig holds paths to the age key pair used for encrypted jobs.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// FilesystemConfig holds source scanning settings.
type FilesystemConfig struct {
	// Ignore patterns apply to every job, in addition to each source
	// root's .ivignore file.
	Ignore []string `toml:"ignore"`
}

// DestinationConfig is a tagged union: Type selects which fields apply.
type DestinationConfig struct {
	Type string `toml:"type"` // "filesystem", "s3", "webdav" or "memory"
	Name string `toml:"name"`

	// filesystem
	FSRoot string `toml:"fs_root,omitempty"`

	// s3, including S3-compatible services such as MinIO
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`

	// webdav, the cloud drive variant
	WebDAVURL      string `toml:"webdav_url,omitempty"`
	WebDAVUser     string `toml:"webdav_user,omitempty"`
	WebDAVPassword string `toml:"webdav_password,omitempty"`
	WebDAVRoot     string `toml:"webdav_root,omitempty"`
}

// DatabaseConfig is a tagged union: Type selects which fields apply.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// StagingConfig is a tagged union: Type selects which fields apply.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
	MaxSize    int64  `toml:"max_size"`              // bytes staged per run at most
}

// PipelineConfig tunes backup runs.
type PipelineConfig struct {
	BlockSize      int64          `toml:"block_size"`
	RetryAttempts  int            `toml:"retry_attempts"`
	RetryBaseDelay Duration       `toml:"retry_base_delay"`
	RetryMaxDelay  Duration       `toml:"retry_max_delay"`
	LockDir        string         `toml:"lock_dir,omitempty"` // empty disables cross-process locks
	Concurrency    int            `toml:"concurrency"`        // jobs run at once by `iv run --all`
	Timeouts       TimeoutsConfig `toml:"timeouts"`
}

// TimeoutsConfig bounds each phase of a run. Zero means unbounded.
type TimeoutsConfig struct {
	Scanning     Duration `toml:"scanning"`
	Hashing      Duration `toml:"hashing"`
	Diffing      Duration `toml:"diffing"`
	Compressing  Duration `toml:"compressing"`
	Transferring Duration `toml:"transferring"`
	Verifying    Duration `toml:"verifying"`
}

// PhaseTimeouts returns the non-zero timeouts keyed by phase.
func (t TimeoutsConfig) PhaseTimeouts() map[iv.Phase]time.Duration {
	all := map[iv.Phase]Duration{
		iv.PhaseScanning:     t.Scanning,
		iv.PhaseHashing:      t.Hashing,
		iv.PhaseDiffing:      t.Diffing,
		iv.PhaseCompressing:  t.Compressing,
		iv.PhaseTransferring: t.Transferring,
		iv.PhaseVerifying:    t.Verifying,
	}
	out := make(map[iv.Phase]time.Duration)
	for p, d := range all {
		if d.Duration > 0 {
			out[p] = d.Duration
		}
	}
	return out
}

// RetryPolicy converts the retry settings.
func (p PipelineConfig) RetryPolicy() iv.RetryPolicy {
	return iv.RetryPolicy{
		Attempts:  p.RetryAttempts,
		BaseDelay: p.RetryBaseDelay.Duration,
		MaxDelay:  p.RetryMaxDelay.Duration,
	}
}

// SchedulerConfig configures `iv daemon`.
type SchedulerConfig struct {
	Tick Duration `toml:"tick"`
}

// Duration is a time.Duration written as a string ("90s", "5m") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a Config with a local filesystem destination and every
// path under baseDir.
func NewConfig(hostID, baseDir string) *Config {
	cfg := &Config{
		HostID:   hostID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: DefaultLogLevel,
		Destinations: []DestinationConfig{{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(baseDir, "vault"),
		}},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "iv.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "iv.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Staging:  StagingConfig{Type: "filesystem", StagingDir: filepath.Join(baseDir, "staging")},
		Pipeline: PipelineConfig{LockDir: filepath.Join(baseDir, "locks")},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in settings left at their zero value.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Staging.MaxSize == 0 {
		c.Staging.MaxSize = DefaultStagingSize
	}
	p := &c.Pipeline
	if p.BlockSize == 0 {
		p.BlockSize = DefaultBlockSize
	}
	if p.RetryAttempts == 0 {
		p.RetryAttempts = iv.DefaultRetryPolicy.Attempts
	}
	if p.RetryBaseDelay.Duration == 0 {
		p.RetryBaseDelay.Duration = iv.DefaultRetryPolicy.BaseDelay
	}
	if p.RetryMaxDelay.Duration == 0 {
		p.RetryMaxDelay.Duration = iv.DefaultRetryPolicy.MaxDelay
	}
	if p.Concurrency == 0 {
		p.Concurrency = DefaultConcurrency
	}
	if c.Scheduler.Tick.Duration == 0 {
		c.Scheduler.Tick.Duration = time.Minute
	}
}

// Validate reports the first problem that would make the config unusable.
// Problems wrap iv.ErrConfiguration.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return fmt.Errorf("%w: host_id is required", iv.ErrConfiguration)
	}
	if len(c.Destinations) == 0 {
		return fmt.Errorf("%w: no destinations configured", iv.ErrConfiguration)
	}
	seen := make(map[string]bool)
	for i, d := range c.Destinations {
		if d.Name == "" {
			return fmt.Errorf("%w: destinations[%d] has no name", iv.ErrConfiguration, i)
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: duplicate destination name %q", iv.ErrConfiguration, d.Name)
		}
		seen[d.Name] = true
		if err := d.validate(); err != nil {
			return fmt.Errorf("%w: destination %q: %v", iv.ErrConfiguration, d.Name, err)
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", iv.ErrConfiguration, c.LogLevel)
	}
	if c.Pipeline.BlockSize < 0 {
		return fmt.Errorf("%w: block_size must be positive", iv.ErrConfiguration)
	}
	if c.Pipeline.RetryAttempts < 0 {
		return fmt.Errorf("%w: retry_attempts must not be negative", iv.ErrConfiguration)
	}
	if c.Staging.MaxSize < 0 {
		return fmt.Errorf("%w: staging max_size must be positive", iv.ErrConfiguration)
	}
	return nil
}

func (d DestinationConfig) validate() error {
	switch d.Type {
	case "filesystem":
		if d.FSRoot == "" {
			return fmt.Errorf("fs_root is required")
		}
	case "s3":
		if d.S3Bucket == "" {
			return fmt.Errorf("s3_bucket is required")
		}
		if (d.S3AccessKey == "") != (d.S3SecretKey == "") {
			return fmt.Errorf("s3_access_key and s3_secret_key must be set together")
		}
	case "webdav":
		if d.WebDAVURL == "" {
			return fmt.Errorf("webdav_url is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown type %q", d.Type)
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to w.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := (&Manager{}).Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// The file may carry destination credentials.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := (&Manager{}).Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file at path. It never overwrites an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
