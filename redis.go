package connpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/seasbee/go-logx"
)

// healthProbeKey is the reserved key bounded read probes run against.
// The key never has to exist; a missing key still exercises the full
// request path and returns an empty range.
const healthProbeKey = "connpool:health:probe"

// RedisConfig holds configuration for the Redis backend
type RedisConfig struct {
	// Redis connection settings
	Addr     string `yaml:"addr" json:"addr" validate:"required,max:256"`
	Password string `yaml:"password" json:"password" validate:"omitempty"`
	DB       int    `yaml:"db" json:"db" validate:"gte:0,lte:15"`

	// TLS configuration
	TLS *TLSConfig `yaml:"tls" json:"tls" validate:"omitempty"`

	// Command retry budget inside the client
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte:0,lte:10"`

	// Timeout settings
	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout" validate:"min=100ms,max=5m"`   // 100ms to 5min
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"min=100ms,max=5m"`   // 100ms to 5min
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"min=100ms,max=5m"` // 100ms to 5min
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled            bool `yaml:"enabled" json:"enabled"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// DefaultRedisConfig returns a default Redis configuration
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		TLS:          &TLSConfig{Enabled: false},
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ProductionRedisConfig returns a production configuration
func ProductionRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		TLS:          &TLSConfig{Enabled: true, InsecureSkipVerify: false},
		MaxRetries:   3,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// validateRedisConfig validates Redis configuration
func validateRedisConfig(config *RedisConfig) error {
	if config.Addr == "" {
		return fmt.Errorf("%w: address cannot be empty", ErrInvalidConfig)
	}
	if config.DB < 0 || config.DB > 15 {
		return fmt.Errorf("%w: db must be between 0 and 15, got %d", ErrInvalidConfig, config.DB)
	}
	if config.MaxRetries < 0 || config.MaxRetries > 10 {
		return fmt.Errorf("%w: max_retries must be between 0 and 10, got %d", ErrInvalidConfig, config.MaxRetries)
	}
	if config.DialTimeout <= 0 {
		return fmt.Errorf("%w: dial_timeout must be positive, got %v", ErrInvalidConfig, config.DialTimeout)
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout must be positive, got %v", ErrInvalidConfig, config.ReadTimeout)
	}
	if config.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write_timeout must be positive, got %v", ErrInvalidConfig, config.WriteTimeout)
	}
	return nil
}

// RedisBackend creates pooled connections to a Redis server.
// Each Connect call produces an independent client capped at a single
// underlying socket, so the pool keeps control of concurrency.
type RedisBackend struct {
	config *RedisConfig
}

// NewRedisBackend creates a Redis backend with the given configuration.
// No connection is dialed until the pool asks for one.
func NewRedisBackend(config *RedisConfig) (*RedisBackend, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	if err := validateRedisConfig(config); err != nil {
		return nil, err
	}

	tlsEnabled := false
	if config.TLS != nil {
		tlsEnabled = config.TLS.Enabled
	}

	logx.Info("Redis backend created",
		logx.String("addr", config.Addr),
		logx.Int("db", config.DB),
		logx.Bool("tls_enabled", tlsEnabled))

	return &RedisBackend{config: config}, nil
}

// NewRedisBackendFromURL creates a Redis backend from a redis:// URL
func NewRedisBackendFromURL(rawURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrInvalidConfig, err)
	}

	config := DefaultRedisConfig()
	config.Addr = opts.Addr
	config.Password = opts.Password
	config.DB = opts.DB
	if opts.TLSConfig != nil {
		config.TLS = &TLSConfig{Enabled: true, InsecureSkipVerify: opts.TLSConfig.InsecureSkipVerify}
	}

	return NewRedisBackend(config)
}

// Name identifies the backend in logs and metrics
func (b *RedisBackend) Name() string {
	return "redis"
}

// Connect creates one new physical connection and verifies it with a ping
func (b *RedisBackend) Connect(ctx context.Context) (Conn, error) {
	opts := &redis.Options{
		Addr:         b.config.Addr,
		Password:     b.config.Password,
		DB:           b.config.DB,
		PoolSize:     1,
		MinIdleConns: 0,
		MaxRetries:   b.config.MaxRetries,
		DialTimeout:  b.config.DialTimeout,
		ReadTimeout:  b.config.ReadTimeout,
		WriteTimeout: b.config.WriteTimeout,
	}

	if b.config.TLS != nil && b.config.TLS.Enabled {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: b.config.TLS.InsecureSkipVerify,
		}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, b.config.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connect to redis at %s: %v", ErrConnectionCreation, b.config.Addr, err)
	}

	return &redisConnection{client: client}, nil
}

// Validator returns a health-check validator for the given strategy
func (b *RedisBackend) Validator(strategy ValidationStrategy) ConnectionValidator {
	return &redisValidator{strategy: strategy}
}

// redisConnection adapts one single-socket Redis client to Conn
type redisConnection struct {
	client *redis.Client
	closed int32
}

// Execute runs one command. The command verb may carry inline
// arguments in the query string; positional args are appended.
func (c *redisConnection) Execute(ctx context.Context, query string, args ...any) (*Result, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, fmt.Errorf("%w: redis connection", ErrConnectionClosed)
	}

	fields := strings.Fields(query)
	if len(fields) == 0 {
		return nil, fmt.Errorf("redis command cannot be empty")
	}

	cmdArgs := make([]any, 0, len(fields)+len(args))
	for _, f := range fields {
		cmdArgs = append(cmdArgs, f)
	}
	cmdArgs = append(cmdArgs, args...)

	reply, err := c.client.Do(ctx, cmdArgs...).Result()
	if err == redis.Nil {
		return &Result{Reply: nil}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis command %s failed: %w", strings.ToUpper(fields[0]), err)
	}

	return &Result{Reply: reply}, nil
}

// IsHealthy reports whether the server answers a ping
func (c *redisConnection) IsHealthy(ctx context.Context) bool {
	if atomic.LoadInt32(&c.closed) == 1 {
		return false
	}
	return c.client.Ping(ctx).Err() == nil
}

// Close releases the underlying client
func (c *redisConnection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.client.Close()
}

// redisValidator probes Redis connections through the Conn contract
type redisValidator struct {
	strategy ValidationStrategy
}

// Strategy identifies the probe this validator performs
func (v *redisValidator) Strategy() ValidationStrategy {
	return v.strategy
}

// IsHealthy is the fast path with no retries
func (v *redisValidator) IsHealthy(ctx context.Context, conn Conn) bool {
	if conn == nil {
		return false
	}
	return conn.IsHealthy(ctx)
}

// Validate performs one probe according to the configured strategy
func (v *redisValidator) Validate(ctx context.Context, conn Conn) ValidationResult {
	start := time.Now()
	if conn == nil {
		return invalidResult(start, "connection is nil")
	}

	switch v.strategy {
	case StrategyBasic:
		if err := v.ping(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
	case StrategyPing:
		if err := v.boundedRead(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
	case StrategyQuery:
		if err := v.serverTime(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
	case StrategyComprehensive:
		if err := v.ping(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
		if err := v.boundedRead(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
		if err := v.serverTime(ctx, conn); err != nil {
			return invalidResult(start, err.Error())
		}
	default:
		return invalidResult(start, fmt.Sprintf("unknown validation strategy %d", int(v.strategy)))
	}

	return validResult(start)
}

// ping verifies basic liveness with the cheapest server round trip
func (v *redisValidator) ping(ctx context.Context, conn Conn) error {
	result, err := conn.Execute(ctx, "PING")
	if err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if reply, ok := result.Reply.(string); ok && !strings.EqualFold(reply, "PONG") {
		return fmt.Errorf("redis ping returned %q, want PONG", reply)
	}
	return nil
}

// boundedRead exercises the data path with a bounded read on the
// reserved probe key
func (v *redisValidator) boundedRead(ctx context.Context, conn Conn) error {
	if _, err := conn.Execute(ctx, "GETRANGE", healthProbeKey, 0, 63); err != nil {
		return fmt.Errorf("redis bounded read failed: %w", err)
	}
	return nil
}

// serverTime queries server state beyond simple liveness
func (v *redisValidator) serverTime(ctx context.Context, conn Conn) error {
	result, err := conn.Execute(ctx, "TIME")
	if err != nil {
		return fmt.Errorf("redis time query failed: %w", err)
	}
	if result.Reply == nil {
		return fmt.Errorf("redis time query returned no reply")
	}
	return nil
}
