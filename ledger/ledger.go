// Package ledger implements the per-principal credit ledger.
//
// Balances live in the shared Redis store under "credits:{principal}" and
// are mutated only through optimistic transactions (kv.Atomic), so the
// central invariant — a balance is never observed negative — holds under
// arbitrary concurrent callers. Nothing is cached in-process; every read is
// a fresh query.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/kv"
)

// Ledger reads and mutates per-principal credit balances.
type Ledger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithTTL sets the expiry applied to a balance on every grant. Zero
// disables expiry. Granted credits lapse once the TTL passes without a
// further grant; the record then reads as zero.
func WithTTL(d time.Duration) Option {
	return func(l *Ledger) { l.ttl = d }
}

// New creates a Ledger on the given Redis client. The caller owns the
// client lifecycle. Default grant TTL is 30 days.
func New(client redis.UniversalClient, opts ...Option) *Ledger {
	l := &Ledger{client: client, ttl: 30 * 24 * time.Hour}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func key(principal string) string { return "credits:" + principal }

// Balance returns the principal's current credit balance. A missing record
// reads as zero. No side effects.
func (l *Ledger) Balance(ctx context.Context, principal string) (int64, error) {
	val, err := l.client.Get(ctx, key(principal)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: read balance: %w", err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ledger: corrupt balance for %q: %w", principal, err)
	}
	return n, nil
}

// Add atomically grants amount credits to the principal and returns the
// new balance. The read-modify-write retries on conflicting concurrent
// writers rather than failing: a grant must never be dropped to a race.
// The grant re-arms the configured TTL.
func (l *Ledger) Add(ctx context.Context, principal string, amount int64) (int64, error) {
	k := key(principal)
	var balance int64

	err := kv.Atomic(ctx, l.client, func(tx *redis.Tx) error {
		current, err := readInt(tx.Get(ctx, k))
		if err != nil {
			return err
		}
		balance = current + amount

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, balance, 0)
			if l.ttl > 0 {
				pipe.Expire(ctx, k, l.ttl)
			}
			return nil
		})
		return err
	}, k)
	if err != nil {
		return 0, fmt.Errorf("ledger: add credits: %w", err)
	}
	return balance, nil
}

// Consume atomically decrements the principal's balance by exactly one.
// When the observed balance is zero or less the transaction aborts without
// writing and reports adreel.ErrInsufficientCredits. The same optimistic
// retry discipline as Add applies, so the balance never goes negative even
// when concurrent consumers race for the last credit.
func (l *Ledger) Consume(ctx context.Context, principal string) error {
	k := key(principal)

	err := kv.Atomic(ctx, l.client, func(tx *redis.Tx) error {
		current, err := readInt(tx.Get(ctx, k))
		if err != nil {
			return err
		}
		if current <= 0 {
			return adreel.ErrInsufficientCredits
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Decr(ctx, k)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, adreel.ErrInsufficientCredits) {
		return err
	}
	if err != nil {
		return fmt.Errorf("ledger: consume credit: %w", err)
	}
	return nil
}

func readInt(cmd *redis.StringCmd) (int64, error) {
	val, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}
