package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/redis/go-redis/v9"
)

const (
	handlePrefix = "lrowait:handle:"
	claimPrefix  = "lrowait:claim:"
)

// releaseScript deletes the claim only if we still own it
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// recordScript stores the handle only while the claim token still matches
const recordScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("set", KEYS[2], ARGV[2], "PX", ARGV[3])
	else
		return 0
	end
`

// HandleRegistry remembers the handle of every submitted logical operation so a
// rerun resumes polling instead of submitting the same operation twice
type HandleRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewHandleRegistry creates a registry; handles expire after ttl
func NewHandleRegistry(client *redis.Client, ttl time.Duration) *HandleRegistry {
	return &HandleRegistry{client: client, ttl: ttl}
}

// Lookup returns the recorded handle for opKey, if any
func (r *HandleRegistry) Lookup(ctx context.Context, opKey string) (operation.Handle, bool, error) {
	raw, err := r.client.Get(ctx, handlePrefix+opKey).Result()
	if err == redis.Nil {
		return operation.Handle{}, false, nil
	}
	if err != nil {
		return operation.Handle{}, false, fmt.Errorf("failed to look up handle: %w", err)
	}

	var h operation.Handle
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return operation.Handle{}, false, fmt.Errorf("corrupt handle for %s: %w", opKey, err)
	}
	return h, true, nil
}

// Claim reserves the right to submit opKey.
// Returns nil if another runner already holds the claim.
func (r *HandleRegistry) Claim(ctx context.Context, opKey string, ttl time.Duration) (*Claim, error) {
	token := uuid.New().String()

	acquired, err := r.client.SetNX(ctx, claimPrefix+opKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s: %w", opKey, err)
	}
	if !acquired {
		return nil, nil
	}

	return &Claim{registry: r, key: opKey, token: token}, nil
}

// Forget drops the recorded handle so the next run submits again
func (r *HandleRegistry) Forget(ctx context.Context, opKey string) error {
	if err := r.client.Del(ctx, handlePrefix+opKey).Err(); err != nil {
		return fmt.Errorf("failed to forget handle: %w", err)
	}
	return nil
}

// Claim is an exclusive right to submit one logical operation
type Claim struct {
	registry *HandleRegistry
	key      string
	token    string
}

// Record stores the handle of the submitted operation
func (c *Claim) Record(ctx context.Context, h operation.Handle) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to encode handle: %w", err)
	}

	res, err := c.registry.client.Eval(ctx, recordScript,
		[]string{claimPrefix + c.key, handlePrefix + c.key},
		c.token, string(raw), c.registry.ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to record handle: %w", err)
	}
	if res == int64(0) {
		return fmt.Errorf("claim on %s no longer owned", c.key)
	}
	return nil
}

// Release gives up the claim (only if we still own it)
func (c *Claim) Release(ctx context.Context) error {
	_, err := c.registry.client.Eval(ctx, releaseScript, []string{claimPrefix + c.key}, c.token).Result()
	return err
}

// Key returns the logical operation key
func (c *Claim) Key() string {
	return c.key
}
