package session

import "time"

// Backend names accepted in Config.Store.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds session configuration from YAML.
type Config struct {
	// Store specifies the storage backend type.
	// Options: "memory", "redis"
	// Default: "memory"
	Store string `yaml:"store"`

	// TTL is how long an idle session stays visible.
	// Default: 1h
	TTL time.Duration `yaml:"ttl"`

	// MaxTurns caps the turns kept per session, newest kept.
	// Zero or negative keeps every turn. Default: 20
	MaxTurns int `yaml:"max_turns"`

	// EvictSchedule is the cron spec for the eviction janitor.
	// Default: "@every 1m"
	EvictSchedule string `yaml:"evict_schedule"`

	// Redis contains redis backend settings.
	Redis RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all session keys (default: "sentichat:session:").
	Prefix string `yaml:"prefix"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Store:         StoreMemory,
		TTL:           time.Hour,
		MaxTurns:      20,
		EvictSchedule: "@every 1m",
		Redis: RedisConfig{
			Prefix:   "sentichat:session:",
			PoolSize: 10,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Store == "" {
		c.Store = d.Store
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
	if c.EvictSchedule == "" {
		c.EvictSchedule = d.EvictSchedule
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = d.Redis.Prefix
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = d.Redis.PoolSize
	}
	return c
}
