// Package kv provides the optimistic transaction discipline shared by the
// credit ledger and the rate limiter.
//
// Both components mutate per-principal counters in Redis with a
// watch-then-commit cycle: observe the current value, compute the new value
// locally, and commit conditionally on the watched keys being unchanged.
// On conflict the whole cycle restarts. There is no retry cap — contention
// per principal is low and each retry is one cheap round trip — so a write
// is never silently dropped because a concurrent writer got there first.
package kv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Atomic runs fn as an optimistic transaction over the given keys.
//
// fn observes values through the transaction (tx.Get and friends) and
// commits through tx.TxPipelined. When a concurrent writer touches a
// watched key between observe and commit, the commit fails and Atomic
// restarts fn from scratch; fn must therefore be a pure read-compute-commit
// function with no side effects outside the transaction.
//
// Any error from fn other than a transaction conflict is returned
// unchanged, so callers can abort with a sentinel (for example when a
// balance check fails). Context cancellation is the only way out of the
// retry loop.
func Atomic(ctx context.Context, client redis.UniversalClient, fn func(tx *redis.Tx) error, keys ...string) error {
	for {
		err := client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
