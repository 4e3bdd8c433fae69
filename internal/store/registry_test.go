package store

import (
	"context"
	"testing"
	"time"

	"github.com/muaviaUsmani/lrowait/internal/operation"
)

func TestHandleRegistry_ClaimRecordLookup(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	reg := NewHandleRegistry(client, time.Hour)
	ctx := context.Background()

	if _, found, err := reg.Lookup(ctx, "deploy-web"); err != nil || found {
		t.Fatalf("Lookup() before submit = %v, %v", found, err)
	}

	claim, err := reg.Claim(ctx, "deploy-web", time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claim == nil {
		t.Fatal("Claim() returned nil on a free key")
	}

	h := operation.Handle{ID: "https://mgmt.example/ops/1", Name: "deploy-web"}
	if err := claim.Record(ctx, h); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, found, err := reg.Lookup(ctx, "deploy-web")
	if err != nil || !found {
		t.Fatalf("Lookup() = %v, %v", found, err)
	}
	if got.ID != h.ID || got.Name != h.Name {
		t.Errorf("Lookup() = %+v, want %+v", got, h)
	}
	if ttl := mr.TTL(handlePrefix + "deploy-web"); ttl != time.Hour {
		t.Errorf("handle TTL = %v, want 1h", ttl)
	}
}

func TestHandleRegistry_SecondClaimRejected(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	reg := NewHandleRegistry(client, time.Hour)
	ctx := context.Background()

	first, err := reg.Claim(ctx, "scan-1", time.Minute)
	if err != nil || first == nil {
		t.Fatalf("first Claim() = %v, %v", first, err)
	}

	second, err := reg.Claim(ctx, "scan-1", time.Minute)
	if err != nil {
		t.Fatalf("second Claim() error = %v", err)
	}
	if second != nil {
		t.Error("second Claim() should return nil while the first is held")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	third, err := reg.Claim(ctx, "scan-1", time.Minute)
	if err != nil || third == nil {
		t.Errorf("Claim() after release = %v, %v", third, err)
	}
}

func TestHandleRegistry_ExpiredClaimCannotRecord(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	reg := NewHandleRegistry(client, time.Hour)
	ctx := context.Background()

	claim, err := reg.Claim(ctx, "replicate", time.Second)
	if err != nil || claim == nil {
		t.Fatalf("Claim() = %v, %v", claim, err)
	}
	mr.FastForward(2 * time.Second)

	if err := claim.Record(ctx, operation.Handle{ID: "x"}); err == nil {
		t.Error("Record() should fail after the claim expired")
	}
	if _, found, _ := reg.Lookup(ctx, "replicate"); found {
		t.Error("handle should not be recorded by an expired claim")
	}
}

func TestHandleRegistry_ReleaseDoesNotStealOthersClaim(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	reg := NewHandleRegistry(client, time.Hour)
	ctx := context.Background()

	stale, _ := reg.Claim(ctx, "op", time.Second)
	mr.FastForward(2 * time.Second)
	fresh, err := reg.Claim(ctx, "op", time.Minute)
	if err != nil || fresh == nil {
		t.Fatalf("Claim() = %v, %v", fresh, err)
	}

	if err := stale.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got, _ := mr.Get(claimPrefix + "op"); got != fresh.token {
		t.Errorf("claim token = %q, want the fresh claim's token", got)
	}
}

func TestHandleRegistry_Forget(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()

	reg := NewHandleRegistry(client, time.Hour)
	ctx := context.Background()

	claim, _ := reg.Claim(ctx, "op", time.Minute)
	if err := claim.Record(ctx, operation.Handle{ID: "h"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Forget(ctx, "op"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if _, found, _ := reg.Lookup(ctx, "op"); found {
		t.Error("handle still present after Forget")
	}
}
