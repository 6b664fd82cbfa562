// Package redis owns the connection to the key-value store backing the view
// buffers and rate limiter. Missing configuration or an unreachable server is
// not a hard failure here: Connect returns a nil client and everything built
// on top of it fails open, serving the durable path instead.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/fablehall/viewcore/env"
)

const (
	// Per-request retry policy. Reconnect backoff is capped so a flapping
	// server cannot stall request handlers for more than about a second.
	maxRetries      = 3
	minRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff = time.Second

	dialTimeout  = 3 * time.Second
	readTimeout  = 500 * time.Millisecond
	writeTimeout = 500 * time.Millisecond

	readyTimeout = 3 * time.Second
)

// Config holds the connection parameters. URL takes precedence over the
// individual fields when set.
type Config struct {
	URL      string
	Host     string
	Port     string
	Password string
	TLS      bool
}

// FromEnv reads the connection parameters from REDIS_URL, or from
// REDIS_HOST/REDIS_PORT/REDIS_PASSWORD/REDIS_TLS. The second return value is
// false when neither form is configured; that is a supported deployment mode,
// not an error.
func FromEnv() (Config, bool) {
	if url, err := env.Load("REDIS_URL"); err == nil {
		return Config{URL: url}, true
	}

	host, err := env.Load("REDIS_HOST")
	if err != nil {
		return Config{}, false
	}

	return Config{
		Host:     host,
		Port:     env.LoadOr("REDIS_PORT", "6379"),
		Password: env.LoadOr("REDIS_PASSWORD", ""),
		TLS:      env.LoadBoolOr("REDIS_TLS", false),
	}, true
}

func (c Config) options() (*redis.Options, error) {
	var opts *redis.Options
	if c.URL != "" {
		var err error
		opts, err = redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: parse url: %w", err)
		}
	} else {
		opts = &redis.Options{
			Addr:     net.JoinHostPort(c.Host, c.Port),
			Password: c.Password,
		}
		if c.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	opts.MaxRetries = maxRetries
	opts.MinRetryBackoff = minRetryBackoff
	opts.MaxRetryBackoff = maxRetryBackoff
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = readTimeout
	opts.WriteTimeout = writeTimeout

	return opts, nil
}

// New constructs a client from the given config and verifies it with a
// bounded PING. The caller owns the returned client's lifecycle.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}

	return client, nil
}

// Connect combines FromEnv and New, logging the outcome instead of returning
// an error. A nil result means the process runs without the buffered view
// path and with the rate limiter admitting everything.
func Connect(ctx context.Context, logger *slog.Logger) *redis.Client {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, ok := FromEnv()
	if !ok {
		logger.Warn("redis: no connection parameters set, running degraded")
		return nil
	}

	client, err := New(ctx, cfg)
	if err != nil {
		logger.Error("redis: connect failed, running degraded", "err", err)
		return nil
	}

	logger.Info("redis: ready", "addr", client.Options().Addr)
	return client
}
