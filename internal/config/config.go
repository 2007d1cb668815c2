// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Adapter  AdapterConfig  `mapstructure:"adapter"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Display  DisplayConfig  `mapstructure:"display"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	App      AppConfig      `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// SecurityConfig represents CORS configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AdapterConfig represents the ELM327 serial link and exchange timing
type AdapterConfig struct {
	DevicePath   string        `mapstructure:"device_path"`
	AutoConnect  bool          `mapstructure:"auto_connect"`
	BaudRate     int           `mapstructure:"baud_rate"`
	DataBits     int           `mapstructure:"data_bits"`
	StopBits     int           `mapstructure:"stop_bits"`
	Parity       string        `mapstructure:"parity"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	ReadBudget   time.Duration `mapstructure:"read_budget"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	ResetDelay   time.Duration `mapstructure:"reset_delay"`
	ResponseSize int           `mapstructure:"response_size"`
}

// PollerConfig represents the telemetry polling loop
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DisplayConfig represents the consumer stream cadence
type DisplayConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// MetricsConfig represents prometheus exposition
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MQTTConfig represents the optional telemetry publisher
type MQTTConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Broker   string        `mapstructure:"broker"`
	Topic    string        `mapstructure:"topic"`
	ClientID string        `mapstructure:"client_id"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	QoS      int           `mapstructure:"qos"`
	Retained bool          `mapstructure:"retained"`
	Interval time.Duration `mapstructure:"interval"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables. A missing
// config file is not an error; defaults and environment apply.
func Load() (*Config, error) {
	v := viper.New()

	if path := os.Getenv("OBD_SERVICE_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath("./internal/config")
		v.AddConfigPath("../../internal/config")
	}

	return load(v)
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Environment variable support
	v.SetEnvPrefix("OBD_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8085")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Adapter defaults (ELM327)
	v.SetDefault("adapter.device_path", "")
	v.SetDefault("adapter.auto_connect", false)
	v.SetDefault("adapter.baud_rate", 38400)
	v.SetDefault("adapter.data_bits", 8)
	v.SetDefault("adapter.stop_bits", 1)
	v.SetDefault("adapter.parity", "none")
	v.SetDefault("adapter.read_timeout", "1s")
	v.SetDefault("adapter.read_budget", "1s")
	v.SetDefault("adapter.poll_interval", "100ms")
	v.SetDefault("adapter.settle_delay", "100ms")
	v.SetDefault("adapter.reset_delay", "100ms")
	v.SetDefault("adapter.response_size", 256)

	// Poller defaults
	v.SetDefault("poller.interval", "100ms")

	// Display defaults
	v.SetDefault("display.refresh_interval", "50ms")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "vehicle/telemetry")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.retained", true)
	v.SetDefault("mqtt.interval", "1s")

	// App defaults
	v.SetDefault("app.name", "obd-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	validEnvs := []string{"development", "staging", "production", "test"}
	if !contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	validRates := []int{9600, 19200, 38400, 57600, 115200, 230400, 500000}
	valid := false
	for _, rate := range validRates {
		if config.Adapter.BaudRate == rate {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid adapter.baud_rate: %d", config.Adapter.BaudRate)
	}

	if !contains([]string{"none", "odd", "even"}, config.Adapter.Parity) {
		return fmt.Errorf("adapter.parity must be one of none, odd, even")
	}
	if config.Adapter.ResponseSize < 2 {
		return fmt.Errorf("adapter.response_size must be at least 2")
	}
	if config.Adapter.ReadBudget <= 0 {
		return fmt.Errorf("adapter.read_budget must be positive")
	}
	if config.Poller.Interval < 0 {
		return fmt.Errorf("poller.interval must not be negative")
	}
	if config.Display.RefreshInterval <= 0 {
		return fmt.Errorf("display.refresh_interval must be positive")
	}

	if config.MQTT.Enabled {
		if config.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if config.MQTT.QoS < 0 || config.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if config.MQTT.Interval <= 0 {
			return fmt.Errorf("mqtt.interval must be positive")
		}
	}

	return nil
}

func contains(values []string, v string) bool {
	for _, value := range values {
		if value == v {
			return true
		}
	}
	return false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
