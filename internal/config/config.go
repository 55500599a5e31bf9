package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorWebSocket ConnectorType = "websocket"
	ConnectorSerial    ConnectorType = "serial"

	DefaultPort        = 80
	DefaultPath        = "/"
	DefaultSerialBaud  = 115200
	DefaultDialTimeout = Duration(10 * time.Second)

	DefaultReconnectDelay    = Duration(3 * time.Second)
	DefaultHeartbeatInterval = Duration(30 * time.Second)
	DefaultHeartbeatTimeout  = Duration(5 * time.Second)
	DefaultWriteTimeout      = Duration(5 * time.Second)
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level"`
	LogToFile bool   `json:"log_to_file" yaml:"log_to_file"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector   ConnectorType `json:"connector" yaml:"connector"`
	Host        string        `json:"host" yaml:"host"`
	Port        int           `json:"port" yaml:"port"`
	Path        string        `json:"path" yaml:"path"`
	UseTLS      bool          `json:"use_tls" yaml:"use_tls"`
	SerialPort  string        `json:"serial_port" yaml:"serial_port"`
	SerialBaud  int           `json:"serial_baud" yaml:"serial_baud"`
	DialTimeout Duration      `json:"dial_timeout" yaml:"dial_timeout"`
}

// LinkConfig holds the heartbeat and reconnect timings.
type LinkConfig struct {
	ReconnectDelay    Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	HeartbeatInterval Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	WriteTimeout      Duration `json:"write_timeout" yaml:"write_timeout"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	ConnectionStatus bool `json:"connection_status" yaml:"connection_status"`
	IncomingMessage  bool `json:"incoming_message" yaml:"incoming_message"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `json:"connection" yaml:"connection"`
	Link          LinkConfig         `json:"link" yaml:"link"`
	Logging       LoggingConfig      `json:"logging" yaml:"logging"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:   ConnectorWebSocket,
			Host:        "",
			Port:        DefaultPort,
			Path:        DefaultPath,
			SerialBaud:  DefaultSerialBaud,
			DialTimeout: DefaultDialTimeout,
		},
		Link: LinkConfig{
			ReconnectDelay:    DefaultReconnectDelay,
			HeartbeatInterval: DefaultHeartbeatInterval,
			HeartbeatTimeout:  DefaultHeartbeatTimeout,
			WriteTimeout:      DefaultWriteTimeout,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			Enabled:          false,
			ConnectionStatus: true,
			IncomingMessage:  false,
		},
	}
}

// Load reads the config at path. A missing file yields defaults. Files named
// *.yaml or *.yml are decoded as YAML, everything else as JSON.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime or passed explicitly by the user.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if isYAML(cleanPath) {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config yaml: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorWebSocket
	}
	c.Connection.Host = strings.TrimSpace(c.Connection.Host)
	if c.Connection.Port == 0 {
		c.Connection.Port = DefaultPort
	}
	if strings.TrimSpace(c.Connection.Path) == "" {
		c.Connection.Path = DefaultPath
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Connection.DialTimeout <= 0 {
		c.Connection.DialTimeout = DefaultDialTimeout
	}
	if c.Link.ReconnectDelay <= 0 {
		c.Link.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Link.HeartbeatInterval <= 0 {
		c.Link.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Link.HeartbeatTimeout <= 0 {
		c.Link.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Link.WriteTimeout <= 0 {
		c.Link.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorWebSocket:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("websocket host is required")
		}
		if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
			return fmt.Errorf("invalid port: %d", c.Connection.Port)
		}
		if !strings.HasPrefix(c.Connection.Path, "/") {
			return fmt.Errorf("websocket path must start with /: %q", c.Connection.Path)
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	if c.Link.ReconnectDelay <= 0 {
		return errors.New("reconnect delay must be positive")
	}
	if c.Link.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if c.Link.HeartbeatTimeout <= 0 {
		return errors.New("heartbeat timeout must be positive")
	}
	// A deadline that outlives the probe period is re-armed by the next probe and never fires.
	if c.Link.HeartbeatTimeout >= c.Link.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout %s must be shorter than interval %s", c.Link.HeartbeatTimeout, c.Link.HeartbeatInterval)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		raw []byte
		err error
	)
	if isYAML(path) {
		raw, err = yaml.Marshal(cfg)
	} else {
		raw, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
