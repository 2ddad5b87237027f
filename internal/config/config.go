// Package config loads and validates collection-sync configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/collection-sync/internal/archive"
)

// Config captures all knobs loaded via Viper. It is built once and never mutated afterwards.
type Config struct {
	Platform  PlatformConfig  `mapstructure:"platform"`
	Output    OutputConfig    `mapstructure:"output"`
	Sync      SyncConfig      `mapstructure:"sync"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Assembler AssemblerConfig `mapstructure:"assembler"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PlatformConfig identifies the remote collection and the endpoints serving it.
type PlatformConfig struct {
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	CollectionID  string `mapstructure:"collection_id"`
	APIBaseURL    string `mapstructure:"api_base_url"`
	WASAPIBaseURL string `mapstructure:"wasapi_base_url"`
	ReplayBaseURL string `mapstructure:"replay_base_url"`
	UserAgent     string `mapstructure:"user_agent"`
}

// OutputConfig places the working directory and the container.
type OutputConfig struct {
	Root      string `mapstructure:"root"`
	Extension string `mapstructure:"extension"`
}

// SyncConfig governs batching against the platform.
type SyncConfig struct {
	Concurrency int  `mapstructure:"concurrency"`
	PageSize    int  `mapstructure:"page_size"`
	DryRun      bool `mapstructure:"dry_run"`
}

// HTTPConfig configures client timeouts, retries and pacing.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	BackoffInitialMs  int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int     `mapstructure:"backoff_max_ms"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// AssemblerConfig configures the external container tool.
type AssemblerConfig struct {
	Command      string `mapstructure:"command"`
	SigningURL   string `mapstructure:"signing_url"`
	SigningToken string `mapstructure:"signing_token"`
}

// PublishConfig enables optional delivery of the finished container.
type PublishConfig struct {
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSPrefix     string `mapstructure:"gcs_prefix"`
	PubSubProject string `mapstructure:"pubsub_project"`
	PubSubTopic   string `mapstructure:"pubsub_topic"`
}

// LedgerConfig points at the SQLite run history; empty disables it.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"collection":  "platform.collection_id",
	"username":    "platform.username",
	"password":    "platform.password",
	"output":      "output.root",
	"concurrency": "sync.concurrency",
	"dry-run":     "sync.dry_run",
	"signing-url": "assembler.signing_url",
	"ledger":      "ledger.path",
	"debug":       "logging.development",
}

// Load builds a Config from disk, environment and any flags that were set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg, err := read(path, flags)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadHistory builds a Config for read-only ledger queries, which need no platform credentials.
func LoadHistory(path string, flags *pflag.FlagSet) (Config, error) {
	cfg, err := read(path, flags)
	if err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.Ledger.Path) == "" {
		return Config{}, &ValidationError{Fields: []FieldError{{Key: "ledger.path", Problem: "is required"}}}
	}
	return cfg, nil
}

func read(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so AutomaticEnv can populate them during Unmarshal.
	for _, key := range []string{
		"platform.username",
		"platform.password",
		"platform.collection_id",
		"assembler.signing_url",
		"assembler.signing_token",
		"publish.gcs_bucket",
		"publish.gcs_prefix",
		"publish.pubsub_project",
		"publish.pubsub_topic",
		"ledger.path",
		"metrics.textfile",
		"logging.file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("platform.api_base_url", "https://partner.archive-it.org/api")
	v.SetDefault("platform.wasapi_base_url", "https://warcs.archive-it.org/wasapi/v1")
	v.SetDefault("platform.replay_base_url", "https://wayback.archive-it.org")
	v.SetDefault("platform.user_agent", "collection-sync/0.1")
	v.SetDefault("output.root", ".")
	v.SetDefault("output.extension", "wacz")
	v.SetDefault("sync.concurrency", 10)
	v.SetDefault("sync.page_size", 500)
	v.SetDefault("sync.dry_run", false)
	v.SetDefault("http.timeout_seconds", 0)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("assembler.command", "js-wacz")
	v.SetDefault("logging.development", true)
}

// FieldError names one invalid configuration key.
type FieldError struct {
	Key     string
	Problem string
}

func (e FieldError) Error() string {
	return e.Key + " " + e.Problem
}

// ValidationError lists every failing field, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match the archive.ErrConfig class.
func (e *ValidationError) Unwrap() error {
	return archive.ErrConfig
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var fields []FieldError
	add := func(key, problem string) {
		fields = append(fields, FieldError{Key: key, Problem: problem})
	}

	if strings.TrimSpace(c.Platform.Username) == "" {
		add("platform.username", "is required")
	}
	if c.Platform.Password == "" {
		add("platform.password", "is required")
	}
	if id, err := strconv.ParseInt(c.Platform.CollectionID, 10, 64); err != nil || id <= 0 {
		add("platform.collection_id", "must be a positive integer")
	}
	for key, raw := range map[string]string{
		"platform.api_base_url":    c.Platform.APIBaseURL,
		"platform.wasapi_base_url": c.Platform.WASAPIBaseURL,
		"platform.replay_base_url": c.Platform.ReplayBaseURL,
	} {
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			add(key, "must be an http(s) URL")
		}
	}
	if strings.TrimSpace(c.Output.Root) == "" {
		add("output.root", "is required")
	}
	if c.Output.Extension == "" || strings.ContainsAny(c.Output.Extension, `/\.`) {
		add("output.extension", "must be a bare file extension")
	}
	if c.Sync.Concurrency <= 0 {
		add("sync.concurrency", "must be > 0")
	}
	if c.Sync.PageSize <= 0 {
		add("sync.page_size", "must be > 0")
	}
	if c.HTTP.TimeoutSeconds < 0 {
		add("http.timeout_seconds", "must be >= 0")
	}
	if c.HTTP.MaxRetries < 0 {
		add("http.max_retries", "must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		add("http.requests_per_second", "must be >= 0")
	}
	if strings.TrimSpace(c.Assembler.Command) == "" {
		add("assembler.command", "is required")
	}
	if c.Assembler.SigningToken != "" && c.Assembler.SigningURL == "" {
		add("assembler.signing_url", "must be set when a signing token is given")
	}
	if c.Publish.PubSubTopic != "" && c.Publish.PubSubProject == "" {
		add("publish.pubsub_project", "must be set when a topic is given")
	}

	if len(fields) == 0 {
		return nil
	}
	// Map iteration above is unordered; keep the message stable.
	slices.SortFunc(fields, func(a, b FieldError) int { return strings.Compare(a.Key, b.Key) })
	return &ValidationError{Fields: fields}
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// WorkDir is the per-collection staging directory.
func (c Config) WorkDir() string {
	return filepath.Join(c.Output.Root, c.Platform.CollectionID)
}

// ContainerPath is where the assembled container is written.
func (c Config) ContainerPath() string {
	return filepath.Join(c.Output.Root, c.Platform.CollectionID+"."+c.Output.Extension)
}

// RequestTimeout converts the HTTP timeout; zero leaves it to the transport.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Backoff returns the retry backoff bounds.
func (c Config) Backoff() (initial, maxDelay time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
