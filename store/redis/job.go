package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adreel/adreel/id"
	"github.com/adreel/adreel/job"
	"github.com/adreel/adreel/kv"
)

// queueScore orders the queue sorted set by due time.
func queueScore(j *job.Job) float64 {
	return float64(j.RunAt.UnixMilli())
}

// candidateBatch bounds how many due jobs Dequeue inspects when choosing
// the highest-priority one.
const candidateBatch = 16

// Dequeue implements job.Store. Due jobs are read per queue, the highest
// priority candidate wins, and the claim is committed in an optimistic
// transaction keyed on the job record. A lost race moves on to the next
// candidate.
func (s *Store) Dequeue(ctx context.Context, workerID id.WorkerID, queues []string) (*job.Job, error) {
	now := time.Now().UTC()
	maxScore := strconv.FormatInt(now.UnixMilli(), 10)

	var candidates []dequeueCandidate
	for _, queue := range queues {
		ids, err := s.client.ZRangeByScore(ctx, queueKey(queue), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   maxScore,
			Count: candidateBatch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("store: scan queue %s: %w", queue, err)
		}
		for _, jobID := range ids {
			candidates = append(candidates, dequeueCandidate{queue: queue, jobID: jobID})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	loaded := make([]*job.Job, 0, len(candidates))
	for _, c := range candidates {
		raw, err := s.client.Get(ctx, jobKey(c.jobID)).Result()
		if errors.Is(err, redis.Nil) {
			// Record expired out from under its queue entry.
			s.client.ZRem(ctx, queueKey(c.queue), c.jobID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: load candidate %s: %w", c.jobID, err)
		}
		j, err := decode(raw)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, j)
	}

	sortByPriority(loaded)
	for _, j := range loaded {
		claimed, err := s.claim(ctx, j, workerID, now)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	return nil, nil
}

type dequeueCandidate struct {
	queue string
	jobID string
}

func sortByPriority(jobs []*job.Job) {
	for i := 1; i < len(jobs); i++ {
		for k := i; k > 0 && less(jobs[k], jobs[k-1]); k-- {
			jobs[k], jobs[k-1] = jobs[k-1], jobs[k]
		}
	}
}

func less(a, b *job.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.RunAt.Before(b.RunAt)
}

// claim transitions one candidate to running. Returns (nil, nil) when a
// concurrent worker got there first.
func (s *Store) claim(ctx context.Context, j *job.Job, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	key := jobKey(j.ID.String())
	var claimed *job.Job

	err := kv.Atomic(ctx, s.client, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := decode(raw)
		if err != nil {
			return err
		}
		if current.State != job.StateQueued || current.RunAt.After(now) {
			return nil
		}

		current.State = job.StateRunning
		current.WorkerID = workerID
		current.StartedAt = &now
		current.HeartbeatAt = &now
		current.UpdatedAt = now
		updated, err := encode(current)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ZRem(ctx, queueKey(current.Queue), current.ID.String())
			pipe.ZAdd(ctx, runningKey, redis.Z{
				Score:  float64(now.UnixMilli()),
				Member: current.ID.String(),
			})
			return nil
		})
		if err != nil {
			return err
		}
		claimed = current
		return nil
	}, key)
	if err != nil {
		return nil, fmt.Errorf("store: claim job %s: %w", j.ID, err)
	}
	return claimed, nil
}

// Heartbeat implements job.Store.
func (s *Store) Heartbeat(ctx context.Context, jobID id.JobID, at time.Time) error {
	err := s.client.ZAdd(ctx, runningKey, redis.Z{
		Score:  float64(at.UTC().UnixMilli()),
		Member: jobID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("store: heartbeat job %s: %w", jobID, err)
	}
	return nil
}

// Stale implements job.Store.
func (s *Store) Stale(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	maxScore := strconv.FormatInt(cutoff.UTC().UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, runningKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store: scan running set: %w", err)
	}

	var stale []*job.Job
	for _, jobID := range ids {
		raw, err := s.client.Get(ctx, jobKey(jobID)).Result()
		if errors.Is(err, redis.Nil) {
			s.client.ZRem(ctx, runningKey, jobID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: load stale job %s: %w", jobID, err)
		}
		j, err := decode(raw)
		if err != nil {
			return nil, err
		}
		if j.State == job.StateRunning {
			stale = append(stale, j)
		}
	}
	return stale, nil
}
