package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/leadbot/internal/conversation"
	"github.com/ent0n29/leadbot/internal/intent"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStoreWithClient(client, time.Minute)
	ctx := context.Background()

	want := conversation.State{
		UserInfo:    conversation.UserInfo{Name: "Ana", Email: "ana@x.com"},
		Messages:    []conversation.Message{{Role: conversation.RoleUser, Content: "hola"}},
		Intent:      intent.HoursInfo,
		CurrentStep: conversation.StepDetermineIntent,
	}
	if err := store.Save(ctx, "s1", want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "s1"); ttl != time.Minute {
		t.Fatalf("TTL = %v, want 1m", ttl)
	}

	got, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.UserInfo != want.UserInfo || got.Intent != want.Intent || got.CurrentStep != want.CurrentStep || len(got.Messages) != 1 {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after ttl error = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreDelete(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStoreWithClient(client, time.Minute)
	ctx := context.Background()

	_ = store.Save(ctx, "s1", conversation.NewState())
	if existed, err := store.Delete(ctx, "s1"); err != nil || !existed {
		t.Fatalf("Delete() = %v, %v, want true, nil", existed, err)
	}
	if existed, _ := store.Delete(ctx, "s1"); existed {
		t.Fatalf("second Delete() reported an existing session")
	}
	if _, err := store.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load after Delete error = %v, want ErrNotFound", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "not-a-url://", time.Minute); err == nil {
		t.Fatalf("NewRedisStore() expected error")
	}
}

func TestRedisLockerExcludesAndReleases(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Minute)
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "s1")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	if _, err := locker.TryLock(ctx, "s1"); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second TryLock() error = %v, want ErrLockHeld", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(waitCtx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() while held error = %v, want deadline exceeded", err)
	}

	unlock()
	if mr.Exists(keyPrefix + "s1:lock") {
		t.Fatalf("lock key still present after unlock")
	}

	unlock2, err := locker.Lock(ctx, "s1")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	unlock2()
}

func TestRedisLockerUnlockKeepsForeignLock(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second)
	ctx := context.Background()

	unlock, err := locker.TryLock(ctx, "s1")
	if err != nil {
		t.Fatalf("TryLock() error = %v", err)
	}
	// The lease lapses and another holder takes over.
	mr.FastForward(2 * time.Second)
	other, err := locker.TryLock(ctx, "s1")
	if err != nil {
		t.Fatalf("TryLock() after lease error = %v", err)
	}
	defer other()

	unlock()
	if !mr.Exists(keyPrefix + "s1:lock") {
		t.Fatalf("stale unlock removed another holder's lock")
	}
}
