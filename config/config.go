// Package config loads service settings from defaults, an optional config
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys double as config file keys and, upper-cased, as environment names.
const (
	KeyPort                  = "port"
	KeyDebug                 = "debug"
	KeyLogFormat             = "log_format"
	KeyLogFile               = "log_file"
	KeyLogMaxSizeMB          = "log_max_size_mb"
	KeyLogMaxBackups         = "log_max_backups"
	KeyLogMaxAgeDays         = "log_max_age_days"
	KeyRedisConnectionString = "redis_connection_string"
	KeyUpdatesChannel        = "updates_channel"
	KeySnapshotKey           = "snapshot_key"
	KeyDeduperTTL            = "deduper_ttl"
	KeySessionBuffer         = "session_buffer"
	KeyWriteTimeout          = "write_timeout"
	KeyPingInterval          = "ping_interval"
	KeyMaxMessageBytes       = "max_message_bytes"
	KeyMaxCommandBytes       = "max_command_bytes"
	KeyFeedBuffer            = "feed_buffer"
	KeyAllowedOrigins        = "allowed_origins"
	KeyShutdownTimeout       = "shutdown_timeout"
)

type Config struct {
	Port          int
	Debug         bool
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	RedisConnectionString string
	UpdatesChannel        string
	SnapshotKey           string
	DeduperTTL            time.Duration

	SessionBuffer   int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	MaxCommandBytes int64
	FeedBuffer      int
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// New returns a viper instance with every default registered and the
// environment bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPort, 9000)
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyLogMaxSizeMB, 100)
	v.SetDefault(KeyLogMaxBackups, 5)
	v.SetDefault(KeyLogMaxAgeDays, 28)
	v.SetDefault(KeyRedisConnectionString, "")
	v.SetDefault(KeyUpdatesChannel, "board-updates")
	v.SetDefault(KeySnapshotKey, "board:snapshot")
	v.SetDefault(KeyDeduperTTL, 24*time.Hour)
	v.SetDefault(KeySessionBuffer, 256)
	v.SetDefault(KeyWriteTimeout, 5*time.Second)
	v.SetDefault(KeyPingInterval, 30*time.Second)
	v.SetDefault(KeyMaxMessageBytes, 8<<20)
	v.SetDefault(KeyMaxCommandBytes, 64*1024)
	v.SetDefault(KeyFeedBuffer, 1024)
	v.SetDefault(KeyAllowedOrigins, "*")
	v.SetDefault(KeyShutdownTimeout, 10*time.Second)
	v.AutomaticEnv()
	return v
}

// Load reads file when it is non-empty and returns the validated settings.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	cfg := Config{
		Port:                  v.GetInt(KeyPort),
		Debug:                 v.GetBool(KeyDebug),
		LogFormat:             strings.ToLower(strings.TrimSpace(v.GetString(KeyLogFormat))),
		LogFile:               v.GetString(KeyLogFile),
		LogMaxSizeMB:          v.GetInt(KeyLogMaxSizeMB),
		LogMaxBackups:         v.GetInt(KeyLogMaxBackups),
		LogMaxAgeDays:         v.GetInt(KeyLogMaxAgeDays),
		RedisConnectionString: v.GetString(KeyRedisConnectionString),
		UpdatesChannel:        v.GetString(KeyUpdatesChannel),
		SnapshotKey:           v.GetString(KeySnapshotKey),
		DeduperTTL:            v.GetDuration(KeyDeduperTTL),
		SessionBuffer:         v.GetInt(KeySessionBuffer),
		WriteTimeout:          v.GetDuration(KeyWriteTimeout),
		PingInterval:          v.GetDuration(KeyPingInterval),
		MaxMessageBytes:       v.GetInt64(KeyMaxMessageBytes),
		MaxCommandBytes:       v.GetInt64(KeyMaxCommandBytes),
		FeedBuffer:            v.GetInt(KeyFeedBuffer),
		AllowedOrigins:        splitList(v.Get(KeyAllowedOrigins)),
		ShutdownTimeout:       v.GetDuration(KeyShutdownTimeout),
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT: %d", c.Port))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("invalid LOG_FORMAT: %q", c.LogFormat))
	}
	for _, f := range []struct {
		name  string
		value int64
	}{
		{"SESSION_BUFFER", int64(c.SessionBuffer)},
		{"FEED_BUFFER", int64(c.FeedBuffer)},
		{"MAX_MESSAGE_BYTES", c.MaxMessageBytes},
		{"MAX_COMMAND_BYTES", c.MaxCommandBytes},
		{"DEDUPER_TTL", int64(c.DeduperTTL)},
		{"WRITE_TIMEOUT", int64(c.WriteTimeout)},
		{"PING_INTERVAL", int64(c.PingInterval)},
		{"SHUTDOWN_TIMEOUT", int64(c.ShutdownTimeout)},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("invalid %s: must be greater than zero", f.name))
		}
	}
	if c.UpdatesChannel == "" || c.SnapshotKey == "" {
		errs = append(errs, errors.New("UPDATES_CHANNEL and SNAPSHOT_KEY must not be empty"))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS must not be empty"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// splitList accepts a comma separated string from the environment or a list
// from a config file.
func splitList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			raw = append(raw, fmt.Sprint(item))
		}
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
