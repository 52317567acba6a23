package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, "arr", time.Hour)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRecord(id string, now time.Time) *Record {
	return &Record{
		ID:         id,
		AccountID:  "acc-1",
		Role:       "admin",
		SecretHash: [32]byte{1},
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(24 * time.Hour).Unix(),
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	rec := testRecord("r-1", now)
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *rec {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
	}
	if !got.Active(now) {
		t.Fatal("fresh record should be active")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateRevokesPresentedAndCreatesSuccessor(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, testRecord("r-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := Successor{ID: "r-2", SecretHash: [32]byte{2}, ExpiresAt: now.Add(24 * time.Hour).Unix()}
	succ, err := store.Rotate(ctx, "r-1", [32]byte{1}, next, now)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if succ.AccountID != "acc-1" || succ.Role != "admin" || succ.ID != "r-2" {
		t.Fatalf("successor did not inherit account/role: %+v", succ)
	}

	old, err := store.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if !old.Revoked() || old.ReplacedBy != "r-2" {
		t.Fatalf("presented record should be revoked and point at successor: %+v", old)
	}

	stored, err := store.Get(ctx, "r-2")
	if err != nil {
		t.Fatalf("get successor: %v", err)
	}
	if stored.Revoked() || stored.SecretHash != next.SecretHash {
		t.Fatalf("unexpected successor state: %+v", stored)
	}
}

func TestRotateReplayReportsRevoked(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, testRecord("r-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	next := Successor{ID: "r-2", SecretHash: [32]byte{2}, ExpiresAt: now.Add(time.Hour).Unix()}
	if _, err := store.Rotate(ctx, "r-1", [32]byte{1}, next, now); err != nil {
		t.Fatalf("first rotate: %v", err)
	}

	again := Successor{ID: "r-3", SecretHash: [32]byte{3}, ExpiresAt: now.Add(time.Hour).Unix()}
	if _, err := store.Rotate(ctx, "r-1", [32]byte{1}, again, now); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected ErrRevoked on replay, got %v", err)
	}
	if _, err := store.Get(ctx, "r-3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("replay must not create a successor, got %v", err)
	}
}

func TestRotateMismatchLeavesRecordUntouched(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	rec := testRecord("r-1", now)
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := Successor{ID: "r-2", SecretHash: [32]byte{2}, ExpiresAt: now.Add(time.Hour).Unix()}
	if _, err := store.Rotate(ctx, "r-1", [32]byte{0xFF}, next, now); !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("expected ErrSecretMismatch, got %v", err)
	}

	got, err := store.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got != *rec {
		t.Fatalf("failed rotation changed the record: %+v", got)
	}

	if _, err := store.Rotate(ctx, "r-1", [32]byte{1}, next, now); err != nil {
		t.Fatalf("correct secret should still rotate: %v", err)
	}
}

func TestRotateExpiredRecord(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, testRecord("r-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := now.Add(25 * time.Hour)
	next := Successor{ID: "r-2", SecretHash: [32]byte{2}, ExpiresAt: later.Add(time.Hour).Unix()}
	if _, err := store.Rotate(ctx, "r-1", [32]byte{1}, next, later); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestConcurrentRotateSingleWinner(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, testRecord("r-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 16
	var (
		wins    atomic.Int32
		revoked atomic.Int32
		wg      sync.WaitGroup
	)
	start := make(chan struct{})
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			next := Successor{
				ID:         fmt.Sprintf("succ-%d", i),
				SecretHash: [32]byte{byte(i + 2)},
				ExpiresAt:  now.Add(time.Hour).Unix(),
			}
			_, err := store.Rotate(ctx, "r-1", [32]byte{1}, next, now)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrRevoked):
				revoked.Add(1)
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	if revoked.Load() != workers-1 {
		t.Fatalf("expected %d losers to observe revocation, got %d", workers-1, revoked.Load())
	}
}

func TestRevokeSingleRecord(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	if err := store.Create(ctx, testRecord("r-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Revoke(ctx, "r-1", [32]byte{9}, now); !errors.Is(err, ErrSecretMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
	rec, err := store.Revoke(ctx, "r-1", [32]byte{1}, now)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if rec.AccountID != "acc-1" {
		t.Fatalf("unexpected account: %q", rec.AccountID)
	}
	if _, err := store.Revoke(ctx, "r-1", [32]byte{1}, now); !errors.Is(err, ErrRevoked) {
		t.Fatalf("second revoke should report ErrRevoked, got %v", err)
	}
}

func TestRevokeAllForAccount(t *testing.T) {
	store, _, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if err := store.Create(ctx, testRecord(fmt.Sprintf("r-%d", i), now)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	other := testRecord("other", now)
	other.AccountID = "acc-2"
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}
	if _, err := store.Revoke(ctx, "r-0", [32]byte{1}, now); err != nil {
		t.Fatalf("revoke r-0: %v", err)
	}

	n, err := store.RevokeAllForAccount(ctx, "acc-1", now)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 active records revoked, got %d", n)
	}

	next := Successor{ID: "r-9", SecretHash: [32]byte{9}, ExpiresAt: now.Add(time.Hour).Unix()}
	if _, err := store.Rotate(ctx, "r-1", [32]byte{1}, next, now); !errors.Is(err, ErrRevoked) {
		t.Fatalf("revoked session should not rotate, got %v", err)
	}

	o, err := store.Get(ctx, "other")
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	if o.Revoked() {
		t.Fatal("other account's record must stay active")
	}
}

func TestRecordsOutliveExpiryByRetention(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()
	ctx := context.Background()
	now := time.Now()

	rec := testRecord("r-1", now)
	rec.ExpiresAt = now.Add(time.Minute).Unix()
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	ttl := mr.TTL("arr:r-1")
	if ttl < 59*time.Minute {
		t.Fatalf("record key should be kept for the retention window, ttl=%v", ttl)
	}
}

func TestStoreUnavailable(t *testing.T) {
	store, mr, done := newSessionStoreTest(t)
	defer done()
	mr.Close()

	err := store.Create(context.Background(), testRecord("r-1", time.Now()))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
