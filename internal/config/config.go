// Package config loads the daemon's settings from a YAML file (plus
// environment overrides) via viper, watching the file for changes with
// fsnotify so operators can retune non-structural settings (timeouts,
// retry budgets, audit sink) without a restart. Grounded on the pack's
// only viper-based config loader, synnergy-network/pkg/config, adapted
// from a single global AppConfig + Load(env) to an instance-returning
// Load plus a Watch callback for hot reload.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the unified daemon configuration. It mirrors the YAML file
// structure referenced by cmd/memopiped.
type Config struct {
	Ledger   LedgerConfig   `mapstructure:"ledger" json:"ledger"`
	Pipeline PipelineConfig `mapstructure:"pipeline" json:"pipeline"`
	Keystore KeystoreConfig `mapstructure:"keystore" json:"keystore"`
	Repo     RepoConfig     `mapstructure:"repo" json:"repo"`
	Audit    AuditConfig    `mapstructure:"audit" json:"audit"`
	Logging  LoggingConfig  `mapstructure:"logging" json:"logging"`
	HTTP     HTTPConfig     `mapstructure:"http" json:"http"`
	Tracing  TracingConfig  `mapstructure:"tracing" json:"tracing"`
}

// LedgerConfig configures the ledger client connection the orchestrator
// subscribes and submits through.
type LedgerConfig struct {
	Endpoints     []string `mapstructure:"endpoints" json:"endpoints"`
	Accounts      []string `mapstructure:"accounts" json:"accounts"`
	TimeoutSec    int      `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	CheckInterval int      `mapstructure:"check_interval_seconds" json:"check_interval_seconds"`
}

// PipelineConfig holds the memo pipeline's timing settings. Unset keys
// take the values in defaults(), which match internal/model's constants;
// the pipeline stages use those constants and do not read these fields.
type PipelineConfig struct {
	StaleGroupTimeout time.Duration `mapstructure:"stale_group_timeout" json:"stale_group_timeout"`
	RetryDelay        time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	MaxRetryCount     int           `mapstructure:"max_retry_count" json:"max_retry_count"`
	IdleLogInterval   time.Duration `mapstructure:"idle_log_interval" json:"idle_log_interval"`
}

// KeystoreConfig selects and configures the key-material store's
// KeyManager: "local" (AES-GCM under a process master key) or "kmip".
type KeystoreConfig struct {
	Provider     string   `mapstructure:"provider" json:"provider"`
	KMIPEndpoint string   `mapstructure:"kmip_endpoint" json:"kmip_endpoint"`
	KMIPKeyIDs   []string `mapstructure:"kmip_key_ids" json:"kmip_key_ids"`
	TimeoutSec   int      `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

// RepoConfig selects the transaction repository backend.
type RepoConfig struct {
	Backend string `mapstructure:"backend" json:"backend"` // "memory" or "bbolt"
	Path    string `mapstructure:"path" json:"path"`        // bbolt file path
}

// AuditConfig configures the reviewing-result audit trail.
type AuditConfig struct {
	Enabled             bool       `mapstructure:"enabled" json:"enabled"`
	MaxEvents            int       `mapstructure:"max_events" json:"max_events"`
	RedactMetadataKeys   []string  `mapstructure:"redact_metadata_keys" json:"redact_metadata_keys"`
	Sink                 SinkConfig `mapstructure:"sink" json:"sink"`
}

// SinkConfig configures the audit event writer an AuditConfig's Logger
// wraps events through, optionally batched.
type SinkConfig struct {
	Type          string            `mapstructure:"type" json:"type"` // "stdout", "file", "http", "s3"
	Endpoint      string            `mapstructure:"endpoint" json:"endpoint"`
	Headers       map[string]string `mapstructure:"headers" json:"headers"`
	FilePath      string            `mapstructure:"file_path" json:"file_path"`
	BatchSize     int               `mapstructure:"batch_size" json:"batch_size"`
	FlushInterval time.Duration     `mapstructure:"flush_interval" json:"flush_interval"`
	RetryCount    int               `mapstructure:"retry_count" json:"retry_count"`
	RetryBackoff  time.Duration     `mapstructure:"retry_backoff" json:"retry_backoff"`

	// S3 sink fields, used only when Type == "s3".
	S3Bucket string `mapstructure:"s3_bucket" json:"s3_bucket"`
	S3Prefix string `mapstructure:"s3_prefix" json:"s3_prefix"`
	S3Region string `mapstructure:"s3_region" json:"s3_region"`
}

// LoggingConfig configures the process-wide logrus logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" json:"level"`
	JSON  bool   `mapstructure:"json" json:"json"`
}

// HTTPConfig configures the diagnostic HTTP surface (health/ready/live/metrics).
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
}

// TracingConfig selects and configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Exporter    string `mapstructure:"exporter" json:"exporter"` // "stdout" or "otlp"
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("pipeline.stale_group_timeout", 10*time.Minute)
	v.SetDefault("pipeline.retry_delay", 5*time.Second)
	v.SetDefault("pipeline.max_retry_count", 10)
	v.SetDefault("pipeline.idle_log_interval", time.Hour)
	v.SetDefault("ledger.timeout_seconds", 30)
	v.SetDefault("ledger.check_interval_seconds", 4)
	v.SetDefault("keystore.provider", "local")
	v.SetDefault("repo.backend", "memory")
	v.SetDefault("audit.max_events", 10000)
	v.SetDefault("audit.sink.type", "stdout")
	v.SetDefault("logging.level", "info")
	v.SetDefault("http.listen_addr", ":8090")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.service_name", "memopiped")
}

// Load reads path (a YAML file) and any MEMOPIPE_-prefixed environment
// variable overrides into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MEMOPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Watcher reloads a Config from path whenever the file changes on disk
// and invokes onChange with the new value. It is safe to ignore the
// returned Watcher (fsnotify watching is best-effort hot reload, not a
// correctness requirement -- the daemon runs fine on its initial Load).
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	path     string
	onChange func(*Config)
	done     chan struct{}
}

// Watch starts watching path for writes and calls onChange with each
// successfully reloaded Config. Call Close to stop.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{watcher: fw, path: path, onChange: onChange, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.onChange(cfg)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	return w.watcher.Close()
}
