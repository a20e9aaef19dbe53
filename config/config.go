package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig admin web server configuration
type WebConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	PublicURL string `yaml:"public_url"`
}

// DBConfig database configuration, sqlite or postgres
type DBConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logger configuration
type LogConfig struct {
	Mode       string `yaml:"mode"`
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// SessionConfig controls reconnection and worker sizing for messaging sessions.
type SessionConfig struct {
	// MaxReconnectAttempts bounds one reconnect loop; 0 retries until the session is deleted.
	MaxReconnectAttempts int     `yaml:"max_reconnect_attempts"`
	ReconnectInitialMs   int     `yaml:"reconnect_initial_ms"`
	ReconnectMaxMs       int     `yaml:"reconnect_max_ms"`
	ReconnectMultiplier  float64 `yaml:"reconnect_multiplier"`
	ReconnectJitter      bool    `yaml:"reconnect_jitter"`
	// RecoveryConcurrency is the number of sessions restarted in parallel at boot; 1 is sequential.
	RecoveryConcurrency int `yaml:"recovery_concurrency"`
	WorkerPoolSize      int `yaml:"worker_pool_size"`
}

// WebhookConfig controls outbound callback delivery.
type WebhookConfig struct {
	TimeoutMs        int `yaml:"timeout_ms"`
	Retries          int `yaml:"retries"`
	BackoffInitialMs int `yaml:"backoff_initial_ms"`
	BackoffMaxMs     int `yaml:"backoff_max_ms"`
}

// SFTPConfig remote media storage
type SFTPConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Dir        string `yaml:"dir"`
	PublicURL  string `yaml:"public_url"`
	KnownHosts string `yaml:"known_hosts"`
}

// MediaConfig controls where downloaded attachments go.
type MediaConfig struct {
	Backend       string     `yaml:"backend"`    // local | sftp
	OnFailure     string     `yaml:"on_failure"` // emit | suppress
	LocalDir      string     `yaml:"local_dir"`
	PublicURL     string     `yaml:"public_url"`
	RetentionDays int        `yaml:"retention_days"`
	SFTP          SFTPConfig `yaml:"sftp"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system"`
	Web      WebConfig     `yaml:"web"`
	Database DBConfig      `yaml:"database"`
	Logger   LogConfig     `yaml:"logger"`
	Session  SessionConfig `yaml:"session"`
	Webhook  WebhookConfig `yaml:"webhook"`
	Media    MediaConfig   `yaml:"media"`
}

const (
	MediaBackendLocal = "local"
	MediaBackendSFTP  = "sftp"

	MediaOnFailureEmit     = "emit"
	MediaOnFailureSuppress = "suppress"
)

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

func (c *AppConfig) GetMediaDir() string {
	if c.Media.LocalDir != "" {
		return c.Media.LocalDir
	}
	return filepath.Join(c.System.Workdir, "media")
}

func (c *AppConfig) initDirs() {
	_ = os.MkdirAll(c.GetLogDir(), 0o755)
	_ = os.MkdirAll(c.GetDataDir(), 0o755)
	if c.Media.Backend == MediaBackendLocal {
		_ = os.MkdirAll(c.GetMediaDir(), 0o755)
	}
}

func (s SessionConfig) ReconnectInitial() time.Duration {
	return time.Duration(s.ReconnectInitialMs) * time.Millisecond
}

func (s SessionConfig) ReconnectMax() time.Duration {
	return time.Duration(s.ReconnectMaxMs) * time.Millisecond
}

func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

func (w WebhookConfig) BackoffInitial() time.Duration {
	return time.Duration(w.BackoffInitialMs) * time.Millisecond
}

func (w WebhookConfig) BackoffMax() time.Duration {
	return time.Duration(w.BackoffMaxMs) * time.Millisecond
}

// Default returns a configuration usable for local development.
func Default() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "wagate",
			Location: "UTC",
			Workdir:  "/var/wagate",
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DBConfig{
			Type:     "sqlite",
			Name:     "wagate.db",
			MaxConn:  20,
			IdleConn: 5,
		},
		Logger: LogConfig{
			Mode:     "development",
			Filename: "/var/wagate/logs/wagate.log",
		},
		Session: SessionConfig{
			MaxReconnectAttempts: 10,
			ReconnectInitialMs:   2000,
			ReconnectMaxMs:       120000,
			ReconnectMultiplier:  2,
			ReconnectJitter:      true,
			RecoveryConcurrency:  1,
			WorkerPoolSize:       64,
		},
		Webhook: WebhookConfig{
			TimeoutMs:        5000,
			Retries:          3,
			BackoffInitialMs: 500,
			BackoffMaxMs:     8000,
		},
		Media: MediaConfig{
			Backend:       MediaBackendLocal,
			OnFailure:     MediaOnFailureEmit,
			RetentionDays: 30,
			SFTP:          SFTPConfig{Port: 22, Dir: "/media"},
		},
	}
}

func setEnvValue(name string, val *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*val = v
	}
}

func setEnvBoolValue(name string, val *bool) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*val = cast.ToBool(v)
	}
}

func setEnvIntValue(name string, val *int) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*val = cast.ToInt(v)
	}
}

func setEnvFloatValue(name string, val *float64) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*val = cast.ToFloat64(v)
	}
}

// LoadConfig reads cfile (or wagate.yml / /etc/wagate.yml when empty), applies
// WAGATE_* environment overrides and fills defaults for missing values.
func LoadConfig(cfile string) (*AppConfig, error) {
	if cfile == "" {
		cfile = "wagate.yml"
		if _, err := os.Stat(cfile); err != nil {
			cfile = "/etc/wagate.yml"
		}
	}
	cfg := Default()
	if data, err := os.ReadFile(cfile); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", cfile)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read config %s", cfile)
	}

	applyEnv(cfg)
	normalize(cfg)
	cfg.initDirs()
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setEnvValue("WAGATE_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WAGATE_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvBoolValue("WAGATE_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvValue("WAGATE_WEB_HOST", &cfg.Web.Host)
	setEnvIntValue("WAGATE_WEB_PORT", &cfg.Web.Port)
	setEnvValue("WAGATE_WEB_PUBLIC_URL", &cfg.Web.PublicURL)

	setEnvValue("WAGATE_DB_TYPE", &cfg.Database.Type)
	setEnvValue("WAGATE_DB_HOST", &cfg.Database.Host)
	setEnvIntValue("WAGATE_DB_PORT", &cfg.Database.Port)
	setEnvValue("WAGATE_DB_NAME", &cfg.Database.Name)
	setEnvValue("WAGATE_DB_USER", &cfg.Database.User)
	setEnvValue("WAGATE_DB_PWD", &cfg.Database.Passwd)
	setEnvBoolValue("WAGATE_DB_DEBUG", &cfg.Database.Debug)

	setEnvValue("WAGATE_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBoolValue("WAGATE_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)

	setEnvIntValue("WAGATE_SESSION_MAX_RECONNECT_ATTEMPTS", &cfg.Session.MaxReconnectAttempts)
	setEnvIntValue("WAGATE_SESSION_RECONNECT_INITIAL_MS", &cfg.Session.ReconnectInitialMs)
	setEnvIntValue("WAGATE_SESSION_RECONNECT_MAX_MS", &cfg.Session.ReconnectMaxMs)
	setEnvFloatValue("WAGATE_SESSION_RECONNECT_MULTIPLIER", &cfg.Session.ReconnectMultiplier)
	setEnvIntValue("WAGATE_SESSION_RECOVERY_CONCURRENCY", &cfg.Session.RecoveryConcurrency)
	setEnvIntValue("WAGATE_SESSION_WORKER_POOL_SIZE", &cfg.Session.WorkerPoolSize)

	setEnvIntValue("WAGATE_WEBHOOK_TIMEOUT_MS", &cfg.Webhook.TimeoutMs)
	setEnvIntValue("WAGATE_WEBHOOK_RETRIES", &cfg.Webhook.Retries)

	setEnvValue("WAGATE_MEDIA_BACKEND", &cfg.Media.Backend)
	setEnvValue("WAGATE_MEDIA_ON_FAILURE", &cfg.Media.OnFailure)
	setEnvValue("WAGATE_MEDIA_PUBLIC_URL", &cfg.Media.PublicURL)
	setEnvValue("WAGATE_MEDIA_SFTP_HOST", &cfg.Media.SFTP.Host)
	setEnvIntValue("WAGATE_MEDIA_SFTP_PORT", &cfg.Media.SFTP.Port)
	setEnvValue("WAGATE_MEDIA_SFTP_USER", &cfg.Media.SFTP.User)
	setEnvValue("WAGATE_MEDIA_SFTP_PASSWORD", &cfg.Media.SFTP.Password)
}

func normalize(cfg *AppConfig) {
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	cfg.Media.Backend = strings.ToLower(strings.TrimSpace(cfg.Media.Backend))
	cfg.Media.OnFailure = strings.ToLower(strings.TrimSpace(cfg.Media.OnFailure))
	if cfg.Media.Backend != MediaBackendSFTP {
		cfg.Media.Backend = MediaBackendLocal
	}
	if cfg.Media.OnFailure != MediaOnFailureSuppress {
		cfg.Media.OnFailure = MediaOnFailureEmit
	}
	if cfg.Session.RecoveryConcurrency < 1 {
		cfg.Session.RecoveryConcurrency = 1
	}
	if cfg.Session.WorkerPoolSize < 1 {
		cfg.Session.WorkerPoolSize = 64
	}
	if cfg.Session.MaxReconnectAttempts < 0 {
		cfg.Session.MaxReconnectAttempts = 0
	}
	if cfg.Webhook.Retries < 0 {
		cfg.Webhook.Retries = 0
	}
	if cfg.Webhook.TimeoutMs <= 0 {
		cfg.Webhook.TimeoutMs = 5000
	}
	if cfg.Media.PublicURL == "" && cfg.Web.PublicURL != "" {
		cfg.Media.PublicURL = strings.TrimRight(cfg.Web.PublicURL, "/") + "/media"
	}
}
