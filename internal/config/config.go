// Package config provides configuration loading, validation, and defaults
// for the EDGELOGD logging/telemetry subsystem.
//
// Configuration file: /etc/edgelogd/config.yaml (default)
//
// Validation:
//   - Numeric ranges enforced (ring sizes multiples of 4, list caps >= 1,
//     retry cap >= 0).
//   - Invalid config on startup: the daemon refuses to start.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for EDGELOGD.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// Dlog configures the high-volume debug-log pipeline.
	Dlog DlogConfig `yaml:"dlog"`

	// Elog configures the low-volume event-log pipeline.
	Elog ElogConfig `yaml:"elog"`

	// Upload configures the blob upload worker.
	Upload UploadConfig `yaml:"upload"`

	// Clock configures the NTP monitor.
	Clock ClockConfig `yaml:"clock"`

	// Storage configures the persistent settings store.
	Storage StorageConfig `yaml:"storage"`

	// Settings holds the per-block-type parameter defaults applied when
	// the persistent store is empty or malformed.
	Settings SettingsConfig `yaml:"settings"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`
}

// DlogConfig holds the Dlog accumulator and worker parameters.
type DlogConfig struct {
	// RAMBufferPlaneSize is the capacity of one ring plane in bytes.
	// Must be a multiple of 4. Default: 4096.
	RAMBufferPlaneSize int `yaml:"ram_buffer_plane_size"`

	// RAMBufferPlanes is the number of ring planes (>= 2). Default: 2.
	RAMBufferPlanes int `yaml:"ram_buffer_planes"`

	// MsgTimeout is the Dlog worker receive timeout. While no handoff
	// messages arrive, the worker wakes at this cadence to sweep the
	// critical-log deadline. Default: 1s.
	MsgTimeout time.Duration `yaml:"msg_timeout"`

	// QueueSize is the Dlog handoff queue user capacity. Default: 10.
	QueueSize int `yaml:"queue_size"`

	// CriticalUploadTimeout bounds the latency between a critical log
	// record and its handoff to the upload list. Default: 5s.
	CriticalUploadTimeout time.Duration `yaml:"critical_upload_timeout"`
}

// ElogConfig holds the Elog worker parameters.
type ElogConfig struct {
	// RAMBufferPlaneSize is reported via GetLogInfo. Default: 1024.
	RAMBufferPlaneSize int `yaml:"ram_buffer_plane_size"`

	// RAMBufferPlanes is reported via GetLogInfo. Default: 1.
	RAMBufferPlanes int `yaml:"ram_buffer_planes"`

	// QueueSize is the Elog queue user capacity. Default: 10.
	QueueSize int `yaml:"queue_size"`

	// SaveMax is the in-memory spill capacity while the agent is
	// disconnected; older overflow is dropped. Default: 5.
	SaveMax int `yaml:"save_max"`
}

// UploadConfig holds the blob worker parameters.
type UploadConfig struct {
	// LocalListMax bounds the local upload list. Default: 5.
	LocalListMax int `yaml:"local_list_max"`

	// CloudListMax bounds the cloud upload list. Default: 10.
	CloudListMax int `yaml:"cloud_list_max"`

	// BlobTimeout is the agent event-pump timeout per iteration.
	// Default: 1s.
	BlobTimeout time.Duration `yaml:"blob_timeout"`

	// MaxRetry caps per-entry upload retries. Default: 3.
	MaxRetry int `yaml:"max_retry"`

	// RetrySleep is the pause before re-attempting agent registration.
	// Default: 1s.
	RetrySleep time.Duration `yaml:"retry_sleep"`
}

// ClockConfig holds the NTP monitor parameters.
type ClockConfig struct {
	// PollingTime is the monitor wake period. Default: 10s.
	PollingTime time.Duration `yaml:"polling_time"`

	// NtpErrorTime is the accumulated failure time after which the
	// monitor logs a warning and resets its error counter. Default: 100s.
	NtpErrorTime time.Duration `yaml:"ntp_error_time"`
}

// StorageConfig holds the settings persistence parameters.
type StorageConfig struct {
	// DBPath is the absolute path of the key/value store file.
	// Default: /var/lib/edgelogd/edgelogd.db.
	DBPath string `yaml:"db_path"`
}

// SettingsConfig holds the per-block parameter defaults.
type SettingsConfig struct {
	// DlogLevel is the default debug-log level (0=critical .. 5=trace).
	// Default: 3 (info).
	DlogLevel int `yaml:"dlog_level"`

	// ElogLevel is the default event-log level. Default: 3 (info).
	ElogLevel int `yaml:"elog_level"`

	// DlogDest is the default debug-log destination (0=uart, 1=store,
	// 2=both). Default: 0.
	DlogDest int `yaml:"dlog_dest"`

	// DlogFilter is the default producing-module bitmask. Default: 0.
	DlogFilter uint32 `yaml:"dlog_filter"`

	// StorageName is the default upload storage name. Default: "".
	StorageName string `yaml:"storage_name"`

	// StoragePath is the default upload subdirectory prefix. Default: "".
	StoragePath string `yaml:"storage_path"`

	// LocalUploadAvailable reports whether this platform permits
	// http:// local upload destinations. Default: true.
	LocalUploadAvailable bool `yaml:"local_upload_available"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9137.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	return Config{
		Dlog: DlogConfig{
			RAMBufferPlaneSize:    4096,
			RAMBufferPlanes:       2,
			MsgTimeout:            time.Second,
			QueueSize:             10,
			CriticalUploadTimeout: 5 * time.Second,
		},
		Elog: ElogConfig{
			RAMBufferPlaneSize: 1024,
			RAMBufferPlanes:    1,
			QueueSize:          10,
			SaveMax:            5,
		},
		Upload: UploadConfig{
			LocalListMax: 5,
			CloudListMax: 10,
			BlobTimeout:  time.Second,
			MaxRetry:     3,
			RetrySleep:   time.Second,
		},
		Clock: ClockConfig{
			PollingTime:  10 * time.Second,
			NtpErrorTime: 100 * time.Second,
		},
		Storage: StorageConfig{
			DBPath: "/var/lib/edgelogd/edgelogd.db",
		},
		Settings: SettingsConfig{
			DlogLevel:            3,
			ElogLevel:            3,
			DlogDest:             0,
			DlogFilter:           0,
			StorageName:          "",
			StoragePath:          "",
			LocalUploadAvailable: true,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9137",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Dlog.RAMBufferPlaneSize < 4 || cfg.Dlog.RAMBufferPlaneSize%4 != 0 {
		errs = append(errs, fmt.Sprintf("dlog.ram_buffer_plane_size must be a positive multiple of 4, got %d", cfg.Dlog.RAMBufferPlaneSize))
	}
	if cfg.Dlog.RAMBufferPlanes < 2 {
		errs = append(errs, fmt.Sprintf("dlog.ram_buffer_planes must be >= 2, got %d", cfg.Dlog.RAMBufferPlanes))
	}
	if cfg.Dlog.MsgTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("dlog.msg_timeout must be > 0, got %s", cfg.Dlog.MsgTimeout))
	}
	if cfg.Dlog.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("dlog.queue_size must be >= 1, got %d", cfg.Dlog.QueueSize))
	}
	if cfg.Dlog.CriticalUploadTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("dlog.critical_upload_timeout must be > 0, got %s", cfg.Dlog.CriticalUploadTimeout))
	}
	if cfg.Elog.QueueSize < 1 {
		errs = append(errs, fmt.Sprintf("elog.queue_size must be >= 1, got %d", cfg.Elog.QueueSize))
	}
	if cfg.Elog.SaveMax < 1 {
		errs = append(errs, fmt.Sprintf("elog.save_max must be >= 1, got %d", cfg.Elog.SaveMax))
	}
	if cfg.Upload.LocalListMax < 1 {
		errs = append(errs, fmt.Sprintf("upload.local_list_max must be >= 1, got %d", cfg.Upload.LocalListMax))
	}
	if cfg.Upload.CloudListMax < 1 {
		errs = append(errs, fmt.Sprintf("upload.cloud_list_max must be >= 1, got %d", cfg.Upload.CloudListMax))
	}
	if cfg.Upload.MaxRetry < 0 {
		errs = append(errs, fmt.Sprintf("upload.max_retry must be >= 0, got %d", cfg.Upload.MaxRetry))
	}
	if cfg.Upload.BlobTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("upload.blob_timeout must be > 0, got %s", cfg.Upload.BlobTimeout))
	}
	if cfg.Clock.PollingTime <= 0 {
		errs = append(errs, fmt.Sprintf("clock.polling_time must be > 0, got %s", cfg.Clock.PollingTime))
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Settings.DlogLevel < 0 || cfg.Settings.DlogLevel > 5 {
		errs = append(errs, fmt.Sprintf("settings.dlog_level must be in [0, 5], got %d", cfg.Settings.DlogLevel))
	}
	if cfg.Settings.ElogLevel < 0 || cfg.Settings.ElogLevel > 5 {
		errs = append(errs, fmt.Sprintf("settings.elog_level must be in [0, 5], got %d", cfg.Settings.ElogLevel))
	}
	if cfg.Settings.DlogDest < 0 || cfg.Settings.DlogDest > 2 {
		errs = append(errs, fmt.Sprintf("settings.dlog_dest must be in [0, 2], got %d", cfg.Settings.DlogDest))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			strings.Join(errs, "\n  - "))
	}
	return nil
}
