package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "lrowait:outcome:"
	notifyPrefix  = "lrowait:outcome:notify:"
	latestPrefix  = "lrowait:latest:"
	notifyPayload = "ready"
)

func outcomeKey(sessionID string) string { return keyPrefix + sessionID }
func notifyChannel(sessionID string) string { return notifyPrefix + sessionID }
func latestKey(name string) string { return latestPrefix + name }

// RedisBackend implements the Backend interface using Redis
type RedisBackend struct {
	client     *redis.Client
	successTTL time.Duration
	failureTTL time.Duration
}

// NewRedisBackend creates a new Redis-backed outcome store
func NewRedisBackend(client *redis.Client, successTTL, failureTTL time.Duration) *RedisBackend {
	return &RedisBackend{
		client:     client,
		successTTL: successTTL,
		failureTTL: failureTTL,
	}
}

// StoreOutcome writes the outcome hash, indexes it by operation name and
// publishes a notification, all in one pipeline
func (r *RedisBackend) StoreOutcome(ctx context.Context, o *operation.Outcome) error {
	if o == nil || o.SessionID == "" {
		return fmt.Errorf("outcome without session id")
	}

	data := map[string]interface{}{
		"session_id":  o.SessionID,
		"kind":        string(o.Kind),
		"handle_id":   o.Handle.ID,
		"handle_name": o.Handle.Name,
		"polls":       o.Polls,
		"started_at":  o.StartedAt.Format(time.RFC3339Nano),
		"finished_at": o.FinishedAt.Format(time.RFC3339Nano),
		"elapsed_ms":  o.Elapsed.Milliseconds(),
	}
	if o.Status != "" {
		data["status"] = o.Status
	}
	if o.Detail != "" {
		data["detail"] = o.Detail
	}
	if len(o.Payload) > 0 {
		data["payload"] = string(o.Payload)
	}

	ttl := r.successTTL
	if !o.IsSuccess() {
		ttl = r.failureTTL
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, outcomeKey(o.SessionID), data)
	pipe.Expire(ctx, outcomeKey(o.SessionID), ttl)
	if o.Handle.Name != "" {
		pipe.Set(ctx, latestKey(o.Handle.Name), o.SessionID, ttl)
	}
	pipe.Publish(ctx, notifyChannel(o.SessionID), notifyPayload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store outcome: %w", err)
	}
	return nil
}

// GetOutcome retrieves an outcome from Redis
func (r *RedisBackend) GetOutcome(ctx context.Context, sessionID string) (*operation.Outcome, error) {
	data, err := r.client.HGetAll(ctx, outcomeKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return decodeOutcome(sessionID, data), nil
}

// GetLatestOutcome follows the name index to the newest stored outcome
func (r *RedisBackend) GetLatestOutcome(ctx context.Context, name string) (*operation.Outcome, error) {
	sessionID, err := r.client.Get(ctx, latestKey(name)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest outcome: %w", err)
	}
	return r.GetOutcome(ctx, sessionID)
}

func decodeOutcome(sessionID string, data map[string]string) *operation.Outcome {
	o := &operation.Outcome{
		SessionID: sessionID,
		Kind:      operation.OutcomeKind(data["kind"]),
		Handle:    operation.Handle{ID: data["handle_id"], Name: data["handle_name"]},
		Status:    data["status"],
		Detail:    data["detail"],
	}

	if polls, err := strconv.Atoi(data["polls"]); err == nil {
		o.Polls = polls
	}
	if t, err := time.Parse(time.RFC3339Nano, data["started_at"]); err == nil {
		o.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["finished_at"]); err == nil {
		o.FinishedAt = t
	}
	if ms, err := strconv.ParseInt(data["elapsed_ms"], 10, 64); err == nil {
		o.Elapsed = time.Duration(ms) * time.Millisecond
	}
	if payload, ok := data["payload"]; ok {
		o.Payload = json.RawMessage(payload)
	}
	return o
}

// WaitForOutcome blocks until an outcome is available or timeout is reached.
// It subscribes before the first read so a store racing the call is not missed.
func (r *RedisBackend) WaitForOutcome(ctx context.Context, sessionID string, timeout time.Duration) (*operation.Outcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pubsub := r.client.Subscribe(waitCtx, notifyChannel(sessionID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(waitCtx); err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return r.GetOutcome(ctx, sessionID)
		}
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	o, err := r.GetOutcome(ctx, sessionID)
	if err != nil || o != nil {
		return o, err
	}

	select {
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// One final check in case the notification was missed
		return r.GetOutcome(ctx, sessionID)
	case msg, ok := <-pubsub.Channel():
		if !ok || msg == nil || msg.Payload != notifyPayload {
			return nil, nil
		}
		return r.GetOutcome(ctx, sessionID)
	}
}

// DeleteOutcome removes an outcome from Redis
func (r *RedisBackend) DeleteOutcome(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, outcomeKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete outcome: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection
func (r *RedisBackend) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

var _ Backend = (*RedisBackend)(nil)
