package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all agent configuration
type Config struct {
	Env         string `yaml:"env" env:"APP_ENV" env-default:"development"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"presence-agent.db"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	} `yaml:"log"`

	Backend struct {
		URL     string `yaml:"url" env:"SUPABASE_URL"`
		APIKey  string `yaml:"api_key" env:"SUPABASE_ANON_KEY"`
		Schema  string `yaml:"schema" env:"SUPABASE_SCHEMA" env-default:"public"`
		Timeout int    `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"15"`
	} `yaml:"backend"`

	User struct {
		ID string `yaml:"id" env:"USER_ID"`
	} `yaml:"user"`

	Device struct {
		ID   string `yaml:"id" env:"DEVICE_ID"`
		Name string `yaml:"name" env:"DEVICE_NAME"`
		// Mobile form factors never evaluate the low-activity alert
		Mobile bool `yaml:"mobile" env:"DEVICE_MOBILE" env-default:"false"`
	} `yaml:"device"`

	Tracking struct {
		IdleThreshold    int `yaml:"idle_threshold" env-default:"300"`     // seconds without input before idle
		CheckInterval    int `yaml:"check_interval" env-default:"30"`      // seconds between idle checks
		ActivityThrottle int `yaml:"activity_throttle" env-default:"30"`   // seconds between activity updates
		BatchSize        int `yaml:"batch_size" env-default:"50"`          // snapshots per upload batch
		BatchFlush       int `yaml:"batch_flush_interval" env-default:"60"` // seconds between batch flushes
	} `yaml:"tracking"`

	Alert struct {
		Enabled        bool `yaml:"enabled" env-default:"true"`
		Threshold      int  `yaml:"threshold" env-default:"60"`         // percent
		GracePeriod    int  `yaml:"grace_period" env-default:"60"`      // seconds after start
		MinSessionAge  int  `yaml:"min_session_age" env-default:"300"`  // seconds
	} `yaml:"alert"`

	Baseline struct {
		Staleness int `yaml:"staleness" env-default:"60"` // seconds before a cached baseline is stale
	} `yaml:"baseline"`

	Realtime struct {
		Table         string `yaml:"table" env-default:"chat_messages"`
		PollInterval  int    `yaml:"poll_interval" env-default:"10"`   // seconds between fallback polls
		FallbackDelay int    `yaml:"fallback_delay" env-default:"5"`   // seconds from failure to polling
		PollLimit     int    `yaml:"poll_limit" env-default:"100"`
	} `yaml:"realtime"`

	Notifications struct {
		AutoDismiss int `yaml:"auto_dismiss" env-default:"5"` // seconds before a notification is dismissed
	} `yaml:"notifications"`

	Server struct {
		// Localhost endpoint the host application posts signals to
		Enabled bool `yaml:"enabled" env:"SIGNAL_SERVER_ENABLED" env-default:"true"`
		Port    int  `yaml:"port" env:"SIGNAL_SERVER_PORT" env-default:"8732"`
	} `yaml:"server"`
}

// Load reads the configuration from the given YAML file, falling back to
// environment variables and defaults when the file does not exist
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from environment: %w", err)
		}
	}

	if cfg.Tracking.IdleThreshold < cfg.Tracking.CheckInterval {
		return nil, fmt.Errorf("idle_threshold (%ds) must not be below check_interval (%ds)",
			cfg.Tracking.IdleThreshold, cfg.Tracking.CheckInterval)
	}

	return &cfg, nil
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.Timeout) * time.Second
}

func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.Tracking.IdleThreshold) * time.Second
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Tracking.CheckInterval) * time.Second
}

func (c *Config) ActivityThrottle() time.Duration {
	return time.Duration(c.Tracking.ActivityThrottle) * time.Second
}

func (c *Config) AlertGracePeriod() time.Duration {
	return time.Duration(c.Alert.GracePeriod) * time.Second
}

func (c *Config) MinSessionAge() time.Duration {
	return time.Duration(c.Alert.MinSessionAge) * time.Second
}

func (c *Config) BaselineStaleness() time.Duration {
	return time.Duration(c.Baseline.Staleness) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Realtime.PollInterval) * time.Second
}

func (c *Config) FallbackDelay() time.Duration {
	return time.Duration(c.Realtime.FallbackDelay) * time.Second
}

func (c *Config) NotificationAutoDismiss() time.Duration {
	return time.Duration(c.Notifications.AutoDismiss) * time.Second
}
