// Package celery talks to a Celery deployment through its Redis broker,
// using the key and channel layout of kombu's Redis transport.
package celery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
)

// DefaultFanoutPrefix is kombu's default pub/sub channel prefix; {db} is
// replaced with the database number.
const DefaultFanoutPrefix = "/{db}."

// TransportOptions mirrors the subset of kombu Redis transport options that
// change where the broker keeps its keys and channels.
type TransportOptions struct {
	GlobalKeyPrefix      string
	FanoutPrefix         string
	FanoutPatterns       bool
	SocketTimeout        time.Duration
	SocketConnectTimeout time.Duration
	MaxConnections       int
}

// DefaultTransportOptions returns kombu's defaults.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		FanoutPrefix:   DefaultFanoutPrefix,
		FanoutPatterns: true,
	}
}

// ParseTransportOptions decodes a JSON object of transport options on top of
// the defaults. Unknown keys are ignored. Anything that is not a JSON object,
// or a known key of the wrong type, yields a *domain.TransportOptionsError.
func ParseTransportOptions(raw string) (TransportOptions, error) {
	opts := DefaultTransportOptions()
	if strings.TrimSpace(raw) == "" {
		return opts, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return opts, &domain.TransportOptionsError{Raw: raw, Err: err}
	}

	fail := func(key string, err error) error {
		return &domain.TransportOptionsError{Raw: raw, Err: fmt.Errorf("%s: %w", key, err)}
	}

	if v, ok := fields["global_keyprefix"]; ok {
		if err := json.Unmarshal(v, &opts.GlobalKeyPrefix); err != nil {
			return opts, fail("global_keyprefix", err)
		}
	}
	if v, ok := fields["fanout_prefix"]; ok {
		var enabled bool
		if err := json.Unmarshal(v, &enabled); err == nil {
			if !enabled {
				opts.FanoutPrefix = ""
			}
		} else if err := json.Unmarshal(v, &opts.FanoutPrefix); err != nil {
			return opts, fail("fanout_prefix", errors.New("want bool or string"))
		}
	}
	if v, ok := fields["fanout_patterns"]; ok {
		if err := json.Unmarshal(v, &opts.FanoutPatterns); err != nil {
			return opts, fail("fanout_patterns", err)
		}
	}
	for key, dst := range map[string]*time.Duration{
		"socket_timeout":         &opts.SocketTimeout,
		"socket_connect_timeout": &opts.SocketConnectTimeout,
	} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		var seconds float64
		if err := json.Unmarshal(v, &seconds); err != nil {
			return opts, fail(key, err)
		}
		*dst = time.Duration(seconds * float64(time.Second))
	}
	if v, ok := fields["max_connections"]; ok {
		if err := json.Unmarshal(v, &opts.MaxConnections); err != nil {
			return opts, fail("max_connections", err)
		}
	}
	return opts, nil
}

// Client is a Celery broker client backed by Redis.
type Client struct {
	rdb    *redis.Client
	opts   TransportOptions
	fanout string
}

// NewClient connects lazily to the broker at url (redis://, rediss:// or
// unix://).
func NewClient(url string, opts TransportOptions) (*Client, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if ropts.DialTimeout == 0 {
		ropts.DialTimeout = 2 * time.Second
	}
	if opts.SocketConnectTimeout > 0 {
		ropts.DialTimeout = opts.SocketConnectTimeout
	}
	if opts.SocketTimeout > 0 {
		ropts.ReadTimeout = opts.SocketTimeout
		ropts.WriteTimeout = opts.SocketTimeout
	}
	if opts.MaxConnections > 0 {
		ropts.PoolSize = opts.MaxConnections
	}
	return newClient(redis.NewClient(ropts), ropts.DB, opts), nil
}

func newClient(rdb *redis.Client, db int, opts TransportOptions) *Client {
	return &Client{
		rdb:    rdb,
		opts:   opts,
		fanout: strings.ReplaceAll(opts.FanoutPrefix, "{db}", strconv.Itoa(db)),
	}
}

// Close releases the underlying connections.
func (c *Client) Close() error { return c.rdb.Close() }

// Check verifies the broker answers a PING.
func (c *Client) Check(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}
	return nil
}

// key applies the global key prefix.
func (c *Client) key(name string) string { return c.opts.GlobalKeyPrefix + name }

// topic returns the pub/sub channel of a fanout exchange. With fanout
// patterns enabled a non-empty routing key is appended after a slash.
func (c *Client) topic(exchange, routingKey string) string {
	if routingKey != "" && c.opts.FanoutPatterns {
		return c.key(c.fanout + exchange + "/" + routingKey)
	}
	return c.key(c.fanout + exchange)
}
