package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/muaviaUsmani/lrowait/internal/operation"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func sampleOutcome(kind operation.OutcomeKind) *operation.Outcome {
	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &operation.Outcome{
		SessionID:  operation.NewSessionID(),
		Handle:     operation.Handle{ID: "https://mgmt.example/ops/9", Name: "deploy-web"},
		Kind:       kind,
		Status:     "Succeeded",
		Payload:    []byte(`{"id":"web"}`),
		Polls:      3,
		StartedAt:  started,
		FinishedAt: started.Add(20 * time.Second),
		Elapsed:    20 * time.Second,
	}
}

func TestRedisBackend_StoreAndGetOutcome(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, 24*time.Hour)
	ctx := context.Background()

	want := sampleOutcome(operation.OutcomeSucceeded)
	if err := backend.StoreOutcome(ctx, want); err != nil {
		t.Fatalf("StoreOutcome() error = %v", err)
	}

	got, err := backend.GetOutcome(ctx, want.SessionID)
	if err != nil {
		t.Fatalf("GetOutcome() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetOutcome() returned nil")
	}

	if got.Kind != want.Kind || got.Status != want.Status || got.Polls != want.Polls {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Handle.ID != want.Handle.ID || got.Handle.Name != want.Handle.Name {
		t.Errorf("Handle = %+v, want %+v", got.Handle, want.Handle)
	}
	if !got.StartedAt.Equal(want.StartedAt) || got.Elapsed != want.Elapsed {
		t.Errorf("timing = %v/%v, want %v/%v", got.StartedAt, got.Elapsed, want.StartedAt, want.Elapsed)
	}
	if string(got.Payload) != `{"id":"web"}` {
		t.Errorf("Payload = %s", got.Payload)
	}

	ttl := mr.TTL(outcomeKey(want.SessionID))
	if ttl != time.Hour {
		t.Errorf("TTL = %v, want %v", ttl, time.Hour)
	}
}

func TestRedisBackend_FailureTTLAndVerbatimDetail(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, 24*time.Hour)
	ctx := context.Background()

	o := sampleOutcome(operation.OutcomeFailed)
	o.Status = "Failed"
	o.Detail = "QuotaExceeded"
	o.Payload = nil

	if err := backend.StoreOutcome(ctx, o); err != nil {
		t.Fatalf("StoreOutcome() error = %v", err)
	}

	got, err := backend.GetOutcome(ctx, o.SessionID)
	if err != nil || got == nil {
		t.Fatalf("GetOutcome() = %v, %v", got, err)
	}
	if got.Detail != "QuotaExceeded" {
		t.Errorf("Detail = %q, want QuotaExceeded", got.Detail)
	}
	if mr.TTL(outcomeKey(o.SessionID)) != 24*time.Hour {
		t.Errorf("TTL = %v, want 24h", mr.TTL(outcomeKey(o.SessionID)))
	}
}

func TestRedisBackend_GetMissing(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, time.Hour)
	got, err := backend.GetOutcome(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetOutcome() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestRedisBackend_StoreRejectsMissingSession(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, time.Hour)
	if err := backend.StoreOutcome(context.Background(), &operation.Outcome{}); err == nil {
		t.Error("expected error for outcome without session id")
	}
}

func TestRedisBackend_GetLatestOutcome(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, time.Hour)
	ctx := context.Background()

	first := sampleOutcome(operation.OutcomeTimedOut)
	second := sampleOutcome(operation.OutcomeSucceeded)
	for _, o := range []*operation.Outcome{first, second} {
		if err := backend.StoreOutcome(ctx, o); err != nil {
			t.Fatalf("StoreOutcome() error = %v", err)
		}
	}

	got, err := backend.GetLatestOutcome(ctx, "deploy-web")
	if err != nil {
		t.Fatalf("GetLatestOutcome() error = %v", err)
	}
	if got == nil || got.SessionID != second.SessionID {
		t.Errorf("latest = %+v, want session %s", got, second.SessionID)
	}

	missing, err := backend.GetLatestOutcome(ctx, "unknown-op")
	if err != nil || missing != nil {
		t.Errorf("GetLatestOutcome(unknown) = %v, %v; want nil, nil", missing, err)
	}
}

func TestRedisBackend_WaitForOutcome_AlreadyStored(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, time.Hour)
	ctx := context.Background()

	o := sampleOutcome(operation.OutcomeSucceeded)
	if err := backend.StoreOutcome(ctx, o); err != nil {
		t.Fatal(err)
	}

	got, err := backend.WaitForOutcome(ctx, o.SessionID, time.Second)
	if err != nil || got == nil {
		t.Fatalf("WaitForOutcome() = %v, %v", got, err)
	}
}

func TestRedisBackend_WaitForOutcome_Notified(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, time.Hour)
	ctx := context.Background()
	o := sampleOutcome(operation.OutcomeSucceeded)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = backend.StoreOutcome(ctx, o)
	}()

	got, err := backend.WaitForOutcome(ctx, o.SessionID, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForOutcome() error = %v", err)
	}
	if got == nil || got.SessionID != o.SessionID {
		t.Errorf("WaitForOutcome() = %+v, want session %s", got, o.SessionID)
	}
}

func TestRedisBackend_WaitForOutcome_Timeout(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, time.Hour)

	start := time.Now()
	got, err := backend.WaitForOutcome(context.Background(), "never", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForOutcome() error = %v", err)
	}
	if got != nil {
		t.Errorf("expected nil on timeout, got %+v", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("WaitForOutcome took %v", time.Since(start))
	}
}

func TestRedisBackend_DeleteOutcome(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, time.Hour)
	ctx := context.Background()

	o := sampleOutcome(operation.OutcomeSucceeded)
	if err := backend.StoreOutcome(ctx, o); err != nil {
		t.Fatal(err)
	}
	if err := backend.DeleteOutcome(ctx, o.SessionID); err != nil {
		t.Fatalf("DeleteOutcome() error = %v", err)
	}
	if mr.Exists(outcomeKey(o.SessionID)) {
		t.Error("outcome key still exists after delete")
	}
	if err := backend.DeleteOutcome(ctx, "missing"); err != nil {
		t.Errorf("DeleteOutcome(missing) error = %v", err)
	}
}

func TestRedisBackend_PingAndClose(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	backend := NewRedisBackend(client, time.Hour, time.Hour)
	if err := backend.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
