package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/ledger"
)

// testClient connects to a live Redis or skips the test. These tests
// exercise the optimistic transaction discipline, which only means
// anything against the real server.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("ADREEL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ADREEL_TEST_REDIS_ADDR not set; skipping Redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// principal returns a unique principal per test run so tests never collide
// on shared keys.
func principal(t *testing.T) string {
	t.Helper()
	p := fmt.Sprintf("test:%s:%d", t.Name(), time.Now().UnixNano())
	return p
}

func TestBalance_MissingReadsZero(t *testing.T) {
	client := testClient(t)
	l := ledger.New(client)

	got, err := l.Balance(context.Background(), principal(t))
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if got != 0 {
		t.Errorf("Balance() = %d, want 0", got)
	}
}

func TestAdd_ThenBalance(t *testing.T) {
	client := testClient(t)
	l := ledger.New(client)
	p := principal(t)
	ctx := context.Background()

	got, err := l.Add(ctx, p, 20)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if got != 20 {
		t.Errorf("Add() = %d, want 20", got)
	}

	balance, err := l.Balance(ctx, p)
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if balance != 20 {
		t.Errorf("Balance() = %d, want 20", balance)
	}
}

// Concurrent grants must not lose updates: the final balance is the sum of
// all grants regardless of interleaving.
func TestAdd_ConcurrentWritersLoseNothing(t *testing.T) {
	client := testClient(t)
	l := ledger.New(client)
	p := principal(t)
	ctx := context.Background()

	const writers = 20
	const perWriter = 5

	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				if _, err := l.Add(ctx, p, 3); err != nil {
					t.Errorf("Add() error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	balance, err := l.Balance(ctx, p)
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if want := int64(writers * perWriter * 3); balance != want {
		t.Errorf("Balance() after concurrent adds = %d, want %d", balance, want)
	}
}

func TestConsume_DecrementsByOne(t *testing.T) {
	client := testClient(t)
	l := ledger.New(client)
	p := principal(t)
	ctx := context.Background()

	if _, err := l.Add(ctx, p, 2); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if err := l.Consume(ctx, p); err != nil {
		t.Fatalf("Consume() error: %v", err)
	}

	balance, _ := l.Balance(ctx, p)
	if balance != 1 {
		t.Errorf("Balance() = %d, want 1", balance)
	}
}

func TestConsume_EmptyBalanceAbortsUnchanged(t *testing.T) {
	client := testClient(t)
	l := ledger.New(client)
	p := principal(t)
	ctx := context.Background()

	err := l.Consume(ctx, p)
	if !errors.Is(err, adreel.ErrInsufficientCredits) {
		t.Fatalf("Consume() error = %v, want ErrInsufficientCredits", err)
	}

	balance, _ := l.Balance(ctx, p)
	if balance != 0 {
		t.Errorf("Balance() after failed consume = %d, want 0", balance)
	}
}

// The central ledger property: concurrent consumers never drive the
// balance below zero, and exactly balance-many consumes succeed.
func TestConsume_NeverGoesNegativeUnderRace(t *testing.T) {
	client := testClient(t)
	l := ledger.New(client)
	p := principal(t)
	ctx := context.Background()

	const credits = 10
	const consumers = 25

	if _, err := l.Add(ctx, p, credits); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, consumers)
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.Consume(ctx, p)
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, adreel.ErrInsufficientCredits):
			insufficient++
		default:
			t.Errorf("Consume() unexpected error: %v", err)
		}
	}

	if ok != credits {
		t.Errorf("successful consumes = %d, want %d", ok, credits)
	}
	if insufficient != consumers-credits {
		t.Errorf("insufficient results = %d, want %d", insufficient, consumers-credits)
	}

	balance, _ := l.Balance(ctx, p)
	if balance != 0 {
		t.Errorf("final Balance() = %d, want 0", balance)
	}
}

func TestAdd_AppliesTTL(t *testing.T) {
	client := testClient(t)
	l := ledger.New(client, ledger.WithTTL(time.Hour))
	p := principal(t)
	ctx := context.Background()

	if _, err := l.Add(ctx, p, 5); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	ttl, err := client.TTL(ctx, "credits:"+p).Result()
	if err != nil {
		t.Fatalf("TTL error: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want in (0, 1h]", ttl)
	}
}
