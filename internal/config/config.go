package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"fluent-cache/internal/logs"
	"fluent-cache/internal/repository"
	"fluent-cache/internal/retry"
)

// RetryPolicy controls retries for pipelines built by the host.
type RetryPolicy struct {
	MaxAttempts int           // total attempts including the first
	BaseBackoff time.Duration // wait after the first failure
	MaxBackoff  time.Duration // upper bound on backoff
	JitterFn    func(time.Duration) time.Duration
}

// Policy converts to a retry.Policy.
func (r RetryPolicy) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseBackoff: r.BaseBackoff,
		MaxBackoff:  r.MaxBackoff,
		JitterFn:    r.JitterFn,
	}
}

var (
	ErrNotPositive = errors.New("must be positive")
	ErrNegative    = errors.New("must not be negative")
)

// CachePolicy holds TTLs and the sweep interval for lazily expired entries.
type CachePolicy struct {
	QueryTTL      time.Duration
	EntityTTL     time.Duration
	SweepInterval time.Duration
}

type WorkerPolicy struct {
	MaxConcurrent int
}

type DispatcherPolicy struct {
	Tick time.Duration // 0 drains only when work arrives
}

type LogPolicy struct {
	BufferSize int
	Level      logs.Level
}

type HTTPPolicy struct {
	Addr string
}

type Config struct {
	Retry      RetryPolicy
	Cache      CachePolicy
	Worker     WorkerPolicy
	Dispatcher DispatcherPolicy
	Log        LogPolicy
	HTTP       HTTPPolicy
}

func Default() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseBackoff: 100 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
			JitterFn:    func(d time.Duration) time.Duration { return d / 2 }, // default jitter: 50%
		},
		Cache: CachePolicy{
			QueryTTL:      repository.DefaultShortTTL,
			EntityTTL:     repository.DefaultLongTTL,
			SweepInterval: time.Minute,
		},
		Worker: WorkerPolicy{
			MaxConcurrent: 8,
		},
		Dispatcher: DispatcherPolicy{
			Tick: 16 * time.Millisecond,
		},
		Log: LogPolicy{
			BufferSize: 1000,
			Level:      logs.INFO,
		},
		HTTP: HTTPPolicy{
			Addr: ":8080",
		},
	}
}

// FromEnv starts from Default and applies FLUENT_CACHE_* overrides.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	ints := []struct {
		name string
		dst  *int
	}{
		{"FLUENT_CACHE_RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts},
		{"FLUENT_CACHE_WORKERS", &cfg.Worker.MaxConcurrent},
		{"FLUENT_CACHE_LOG_BUFFER", &cfg.Log.BufferSize},
	}
	for _, v := range ints {
		raw, ok := lookup(v.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", v.name, err)
		}
		*v.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"FLUENT_CACHE_RETRY_BASE_BACKOFF", &cfg.Retry.BaseBackoff},
		{"FLUENT_CACHE_RETRY_MAX_BACKOFF", &cfg.Retry.MaxBackoff},
		{"FLUENT_CACHE_QUERY_TTL", &cfg.Cache.QueryTTL},
		{"FLUENT_CACHE_ENTITY_TTL", &cfg.Cache.EntityTTL},
		{"FLUENT_CACHE_SWEEP_INTERVAL", &cfg.Cache.SweepInterval},
		{"FLUENT_CACHE_DISPATCH_TICK", &cfg.Dispatcher.Tick},
	}
	for _, v := range durations {
		raw, ok := lookup(v.name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", v.name, err)
		}
		*v.dst = d
	}

	if raw, ok := lookup("FLUENT_CACHE_LOG_LEVEL"); ok {
		cfg.Log.Level = logs.ParseLevel(raw)
	}
	if raw, ok := lookup("FLUENT_CACHE_HTTP_ADDR"); ok && raw != "" {
		cfg.HTTP.Addr = raw
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the runtime cannot start with.
func (c Config) Validate() error {
	positive := []struct {
		name string
		ok   bool
	}{
		{"FLUENT_CACHE_WORKERS", c.Worker.MaxConcurrent > 0},
		{"FLUENT_CACHE_LOG_BUFFER", c.Log.BufferSize > 0},
		{"FLUENT_CACHE_SWEEP_INTERVAL", c.Cache.SweepInterval > 0},
		{"FLUENT_CACHE_QUERY_TTL", c.Cache.QueryTTL > 0},
		{"FLUENT_CACHE_ENTITY_TTL", c.Cache.EntityTTL > 0},
	}
	for _, v := range positive {
		if !v.ok {
			return fmt.Errorf("config: %s: %w", v.name, ErrNotPositive)
		}
	}
	if c.Dispatcher.Tick < 0 {
		return fmt.Errorf("config: FLUENT_CACHE_DISPATCH_TICK: %w", ErrNegative)
	}
	return nil
}
