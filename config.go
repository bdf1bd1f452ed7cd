package connpool

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/seasbee/go-validatorx"
	"gopkg.in/yaml.v3"
)

// Configuration keys accepted by map, environment, and override sources
const (
	KeyMinConnections      = "min_connections"
	KeyMaxConnections      = "max_connections"
	KeyMaxIdleTime         = "max_idle_time"
	KeyConnectionTimeout   = "connection_timeout"
	KeyHealthCheckInterval = "health_check_interval"
	KeyMaxRetries          = "max_retries"
	KeyEnableMetrics       = "enable_metrics"
)

// DefaultEnvPrefix is used by NewPoolConfigFromEnv when no prefix is given
const DefaultEnvPrefix = "POOL_"

// PoolConfig holds pool sizing and timing configuration.
// Instances are treated as immutable after construction; reconfiguration
// creates a new instance via WithOverrides.
type PoolConfig struct {
	// Sizing settings
	MinConnections int `yaml:"min_connections" json:"min_connections" validate:"min:1,max:1000" default:"2"`  // 1 to 1000
	MaxConnections int `yaml:"max_connections" json:"max_connections" validate:"min:1,max:1000" default:"10"` // 1 to 1000

	// Timing settings
	MaxIdleTime         time.Duration `yaml:"max_idle_time" json:"max_idle_time" validate:"min=1s,max=24h" default:"300s"`              // 1s to 24h
	ConnectionTimeout   time.Duration `yaml:"connection_timeout" json:"connection_timeout" validate:"min=1s,max=1h" default:"30s"`     // 1s to 1h
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" validate:"min=1s,max=1h" default:"60s"` // 1s to 1h

	// Validation settings
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"min:1,max:10" default:"3"` // 1 to 10

	// Metrics settings
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" default:"true"`
}

// DefaultPoolConfig returns a default pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MinConnections:      2,
		MaxConnections:      10,
		MaxIdleTime:         300 * time.Second,
		ConnectionTimeout:   30 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		MaxRetries:          3,
		EnableMetrics:       true,
	}
}

// HighThroughputPoolConfig returns a configuration sized for high concurrency
func HighThroughputPoolConfig() *PoolConfig {
	return &PoolConfig{
		MinConnections:      10,
		MaxConnections:      100,
		MaxIdleTime:         120 * time.Second,
		ConnectionTimeout:   10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		MaxRetries:          5,
		EnableMetrics:       true,
	}
}

// ResourceConstrainedPoolConfig returns a configuration for small deployments
func ResourceConstrainedPoolConfig() *PoolConfig {
	return &PoolConfig{
		MinConnections:      1,
		MaxConnections:      3,
		MaxIdleTime:         60 * time.Second,
		ConnectionTimeout:   15 * time.Second,
		HealthCheckInterval: 120 * time.Second,
		MaxRetries:          2,
		EnableMetrics:       false,
	}
}

// ProductionPoolConfig returns a production configuration
func ProductionPoolConfig() *PoolConfig {
	return &PoolConfig{
		MinConnections:      5,
		MaxConnections:      50,
		MaxIdleTime:         600 * time.Second,
		ConnectionTimeout:   30 * time.Second,
		HealthCheckInterval: 60 * time.Second,
		MaxRetries:          3,
		EnableMetrics:       true,
	}
}

// Validate checks individual ranges and logical constraints.
// The returned error names the offending field and the violated constraint.
func (c *PoolConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: configuration is nil", ErrInvalidConfig)
	}
	if c.MinConnections < 1 || c.MinConnections > 1000 {
		return fmt.Errorf("%w: min_connections must be between 1 and 1000, got %d", ErrInvalidConfig, c.MinConnections)
	}
	if c.MaxConnections < 1 || c.MaxConnections > 1000 {
		return fmt.Errorf("%w: max_connections must be between 1 and 1000, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.MinConnections > c.MaxConnections {
		return fmt.Errorf("%w: min_connections (%d) cannot exceed max_connections (%d)", ErrInvalidConfig, c.MinConnections, c.MaxConnections)
	}
	if c.MaxIdleTime < time.Second || c.MaxIdleTime > 24*time.Hour {
		return fmt.Errorf("%w: max_idle_time must be between 1s and 24h, got %s", ErrInvalidConfig, c.MaxIdleTime)
	}
	if c.ConnectionTimeout < time.Second || c.ConnectionTimeout > time.Hour {
		return fmt.Errorf("%w: connection_timeout must be between 1s and 1h, got %s", ErrInvalidConfig, c.ConnectionTimeout)
	}
	if c.HealthCheckInterval < time.Second || c.HealthCheckInterval > time.Hour {
		return fmt.Errorf("%w: health_check_interval must be between 1s and 1h, got %s", ErrInvalidConfig, c.HealthCheckInterval)
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("%w: max_retries must be between 1 and 10, got %d", ErrInvalidConfig, c.MaxRetries)
	}
	return nil
}

// ValidateStruct validates the PoolConfig using go-validatorx tag rules
func (c *PoolConfig) ValidateStruct() *validatorx.ValidationResult {
	return validatorx.ValidateStruct(c)
}

// Clone returns a copy of the configuration
func (c *PoolConfig) Clone() *PoolConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// ToMap renders the configuration as a key-value map.
// The result round-trips through NewPoolConfigFromMap.
func (c *PoolConfig) ToMap() map[string]any {
	if c == nil {
		return nil
	}
	return map[string]any{
		KeyMinConnections:      c.MinConnections,
		KeyMaxConnections:      c.MaxConnections,
		KeyMaxIdleTime:         c.MaxIdleTime,
		KeyConnectionTimeout:   c.ConnectionTimeout,
		KeyHealthCheckInterval: c.HealthCheckInterval,
		KeyMaxRetries:          c.MaxRetries,
		KeyEnableMetrics:       c.EnableMetrics,
	}
}

// NewPoolConfigFromMap builds a configuration from a key-value map.
// Unknown keys and unparseable values fail with a configuration error;
// keys absent from the map keep their default values.
func NewPoolConfigFromMap(values map[string]any) (*PoolConfig, error) {
	config := DefaultPoolConfig()
	for key, value := range values {
		if err := config.applyValue(key, value); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WithOverrides returns a new configuration with the given keys applied
// over this one. The receiver is not modified.
func (c *PoolConfig) WithOverrides(overrides map[string]any) (*PoolConfig, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: base configuration is nil", ErrInvalidConfig)
	}
	config := c.Clone()
	for key, value := range overrides {
		if err := config.applyValue(key, value); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// NewPoolConfigFromEnv builds a configuration from environment variables.
// Variable names are the uppercased configuration keys behind the given
// prefix (POOL_ when empty), e.g. POOL_MAX_CONNECTIONS. Unset variables
// keep their default values.
func NewPoolConfigFromEnv(prefix string) (*PoolConfig, error) {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	config := DefaultPoolConfig()
	for _, key := range []string{
		KeyMinConnections,
		KeyMaxConnections,
		KeyMaxIdleTime,
		KeyConnectionTimeout,
		KeyHealthCheckInterval,
		KeyMaxRetries,
		KeyEnableMetrics,
	} {
		name := prefix + strings.ToUpper(key)
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		if err := config.applyValue(key, raw); err != nil {
			return nil, fmt.Errorf("%w: environment variable %s=%q: %s", ErrInvalidConfig, name, raw, err.Error())
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadPoolConfigFromYAML builds a configuration from YAML data
func LoadPoolConfigFromYAML(data []byte) (*PoolConfig, error) {
	config := DefaultPoolConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err.Error())
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadPoolConfigFromYAMLFile builds a configuration from a YAML file
func LoadPoolConfigFromYAMLFile(path string) (*PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %s", ErrInvalidConfig, path, err.Error())
	}
	return LoadPoolConfigFromYAML(data)
}

// applyValue sets a single configuration key from an untyped value
func (c *PoolConfig) applyValue(key string, value any) error {
	switch key {
	case KeyMinConnections:
		n, err := parseIntValue(key, value)
		if err != nil {
			return err
		}
		c.MinConnections = n
	case KeyMaxConnections:
		n, err := parseIntValue(key, value)
		if err != nil {
			return err
		}
		c.MaxConnections = n
	case KeyMaxIdleTime:
		d, err := parseDurationValue(key, value)
		if err != nil {
			return err
		}
		c.MaxIdleTime = d
	case KeyConnectionTimeout:
		d, err := parseDurationValue(key, value)
		if err != nil {
			return err
		}
		c.ConnectionTimeout = d
	case KeyHealthCheckInterval:
		d, err := parseDurationValue(key, value)
		if err != nil {
			return err
		}
		c.HealthCheckInterval = d
	case KeyMaxRetries:
		n, err := parseIntValue(key, value)
		if err != nil {
			return err
		}
		c.MaxRetries = n
	case KeyEnableMetrics:
		b, err := parseBoolValue(key, value)
		if err != nil {
			return err
		}
		c.EnableMetrics = b
	default:
		return fmt.Errorf("%w: unknown configuration key %q", ErrInvalidConfig, key)
	}
	return nil
}

// parseIntValue converts a map or environment value to an int
func parseIntValue(key string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidConfig, key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidConfig, key, value)
	}
}

// parseDurationValue converts a map or environment value to a duration.
// Bare integers are interpreted as seconds; strings also accept Go
// duration syntax such as "300s" or "5m".
func parseDurationValue(key string, value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a duration or integer seconds, got %q", ErrInvalidConfig, key, v)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidConfig, key, value)
	}
}

// parseBoolValue converts a map or environment value to a bool.
// Accepted true spellings are {true, 1, yes, on}; false spellings are
// {false, 0, no, off}; both case-insensitive.
func parseBoolValue(key string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		default:
			return false, fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidConfig, key, v)
		}
	case int:
		switch v {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return false, fmt.Errorf("%w: %s must be a boolean, got %d", ErrInvalidConfig, key, v)
	default:
		return false, fmt.Errorf("%w: %s has unsupported type %T", ErrInvalidConfig, key, value)
	}
}
