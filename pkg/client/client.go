// Package client is the embeddable entry point: submit an operation over HTTP
// and block until it reaches a terminal outcome.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/classifier"
	"github.com/muaviaUsmani/lrowait/internal/httpop"
	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/muaviaUsmani/lrowait/internal/poller"
	"github.com/muaviaUsmani/lrowait/internal/store"
	"github.com/redis/go-redis/v9"
)

// Options configures a Client
type Options struct {
	// Preset names the built-in status table (deployment, scan, replication).
	// Empty with no Statuses means deployment.
	Preset string
	// Statuses extend or override the preset: raw status -> in_progress|succeeded|failed
	Statuses map[string]string
	// StrictUnknown ends a session as failed on a status missing from the table
	StrictUnknown bool
	// Policy is the poll policy; zero fields take their defaults
	Policy poller.Policy
	// HTTP configures the control-plane client; zero value uses httpop.DefaultConfig
	HTTP *httpop.Config
	// RedisURL enables outcome persistence when set
	RedisURL string
	// OutcomeTTL is how long stored outcomes live (default 1h)
	OutcomeTTL time.Duration
	Logger     logger.Logger
}

// Client submits operations and waits for them
type Client struct {
	http    *httpop.Client
	poller  *poller.Poller
	redis   *redis.Client
	backend *store.RedisBackend
}

// NewClient creates a client. It connects to Redis only when RedisURL is set.
func NewClient(opts Options) (*Client, error) {
	preset := classifier.Preset(opts.Preset)
	if preset == "" && len(opts.Statuses) == 0 {
		preset = classifier.PresetDeployment
	}
	table, err := classifier.Build(preset, opts.Statuses)
	if err != nil {
		return nil, err
	}
	table.StrictUnknown = opts.StrictUnknown

	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	httpCfg := httpop.DefaultConfig()
	if opts.HTTP != nil {
		httpCfg = *opts.HTTP
	}
	c := &Client{http: httpop.New(httpCfg, httpop.WithLogger(log))}

	pollOpts := []poller.Option{poller.WithLogger(log)}
	if opts.RedisURL != "" {
		c.redis, err = store.Connect(context.Background(), opts.RedisURL)
		if err != nil {
			return nil, err
		}
		ttl := opts.OutcomeTTL
		if ttl == 0 {
			ttl = time.Hour
		}
		c.backend = store.NewRedisBackend(c.redis, ttl, ttl)
		pollOpts = append(pollOpts, poller.WithStore(c.backend))
	}

	c.poller, err = poller.New(c.http, table, opts.Policy, pollOpts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Submit sends the initiating request and returns the handle to wait on
func (c *Client) Submit(ctx context.Context, req *operation.Request) (operation.Handle, error) {
	return c.http.Submit(ctx, req)
}

// Await polls h until it reaches a terminal outcome
func (c *Client) Await(ctx context.Context, h operation.Handle) *operation.Outcome {
	return c.poller.Await(ctx, h)
}

// SubmitAndAwait submits req and waits for it. The error is set only when the
// submission itself failed; every other result is carried by the outcome.
func (c *Client) SubmitAndAwait(ctx context.Context, req *operation.Request) (*operation.Outcome, error) {
	h, err := c.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.Await(ctx, h), nil
}

// GetOutcome fetches a stored outcome by session ID. Returns nil if it
// doesn't exist or expired.
func (c *Client) GetOutcome(ctx context.Context, sessionID string) (*operation.Outcome, error) {
	if c.backend == nil {
		return nil, fmt.Errorf("outcome store not configured")
	}
	return c.backend.GetOutcome(ctx, sessionID)
}

// Close closes the Redis connection, if any
func (c *Client) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// Await waits on an already issued handle against any status source
func Await(ctx context.Context, src operation.StatusSource, h operation.Handle, table *classifier.Table, policy poller.Policy, opts ...poller.Option) (*operation.Outcome, error) {
	p, err := poller.New(src, table, policy, opts...)
	if err != nil {
		return nil, err
	}
	return p.Await(ctx, h), nil
}
