package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultSerialBaud      = 9600
	DefaultReadTimeout     = time.Second
	DefaultSettleInterval  = 100 * time.Millisecond
	DefaultMonitorInterval = 2 * time.Second
	MinMonitorInterval     = 500 * time.Millisecond
	// MinRetention keeps pruning from racing the sampler on tiny windows.
	MinRetention           = time.Minute
	maxChannel             = 2
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	LogToFile bool   `yaml:"log_to_file"`
}

// ConnectionConfig contains serial line parameters.
type ConnectionConfig struct {
	SerialPort     string        `yaml:"serial_port"`
	SerialBaud     int           `yaml:"serial_baud"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	SettleInterval time.Duration `yaml:"settle_interval"`
	Trace          bool          `yaml:"trace"`
}

// MonitorConfig controls periodic sampling.
type MonitorConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Channels     []int         `yaml:"channels"`
	RecordStatus *bool         `yaml:"record_status"`
	DBPath       string        `yaml:"db_path"`
	// Retention drops recorded history older than this. Zero keeps everything.
	Retention    time.Duration `yaml:"retention"`
}

// AppConfig is the root configuration.
type AppConfig struct {
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

func Default() AppConfig {
	recordStatus := true
	return AppConfig{
		Connection: ConnectionConfig{
			SerialPort:     "",
			SerialBaud:     DefaultSerialBaud,
			ReadTimeout:    DefaultReadTimeout,
			SettleInterval: DefaultSettleInterval,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Monitor: MonitorConfig{
			Interval:     DefaultMonitorInterval,
			Channels:     []int{1},
			RecordStatus: &recordStatus,
		},
	}
}

// Load reads a YAML config. A missing file yields defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the command line or the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config yaml: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	c.Connection.SerialPort = strings.TrimSpace(c.Connection.SerialPort)
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.ReadTimeout <= 0 {
		c.Connection.ReadTimeout = DefaultReadTimeout
	}
	if c.Connection.SettleInterval <= 0 {
		c.Connection.SettleInterval = DefaultSettleInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = DefaultMonitorInterval
	}
	if len(c.Monitor.Channels) == 0 {
		c.Monitor.Channels = []int{1}
	}
	if c.Monitor.RecordStatus == nil {
		recordStatus := true
		c.Monitor.RecordStatus = &recordStatus
	}
}

// StatusEnabled reports whether the monitor should query the status byte.
func (m MonitorConfig) StatusEnabled() bool {
	return m.RecordStatus == nil || *m.RecordStatus
}

func (c AppConfig) Validate() error {
	if c.Connection.SerialPort == "" {
		return errors.New("serial port is required")
	}
	if c.Connection.SerialBaud <= 0 {
		return errors.New("serial baud must be positive")
	}
	if c.Monitor.Interval < MinMonitorInterval {
		return fmt.Errorf("monitor interval %s is below minimum %s", c.Monitor.Interval, MinMonitorInterval)
	}
	if c.Monitor.Retention != 0 && c.Monitor.Retention < MinRetention {
		return fmt.Errorf("monitor retention %s is below minimum %s", c.Monitor.Retention, MinRetention)
	}
	seen := make(map[int]struct{}, len(c.Monitor.Channels))
	for _, ch := range c.Monitor.Channels {
		if ch < 1 || ch > maxChannel {
			return fmt.Errorf("monitor channel %d out of range 1-%d", ch, maxChannel)
		}
		if _, dup := seen[ch]; dup {
			return fmt.Errorf("monitor channel %d listed twice", ch)
		}
		seen[ch] = struct{}{}
	}

	return nil
}
