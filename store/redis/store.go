package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/id"
	"github.com/adreel/adreel/job"
	"github.com/adreel/adreel/kv"
)

// DefaultRetention is how long terminal jobs stay readable before Redis
// expires them.
const DefaultRetention = 24 * time.Hour

// Store is a Redis-backed job.Store.
type Store struct {
	client    redis.UniversalClient
	retention time.Duration
	ownClient bool
}

// Option configures a Store.
type Option func(*Store)

// WithRetention sets how long finished and failed jobs remain readable.
// Zero disables expiry.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// New creates a Store on an existing client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dial connects to addr and creates a Store that owns the connection.
func Dial(addr, password string, db int, opts ...Option) *Store {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	s := New(client, opts...)
	s.ownClient = true
	return s
}

var _ job.Store = (*Store)(nil)

func encode(j *job.Job) (string, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("store: encode job %s: %w", j.ID, err)
	}
	return string(raw), nil
}

func decode(raw string) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("store: decode job: %w", err)
	}
	return &j, nil
}

// Create implements job.Store. The job record and its queue membership
// are written in one transaction.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	raw, err := encode(j)
	if err != nil {
		return err
	}
	key := jobKey(j.ID.String())

	return kv.Atomic(ctx, s.client, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", adreel.ErrJobAlreadyExists, j.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.ZAdd(ctx, queueKey(j.Queue), redis.Z{
				Score:  queueScore(j),
				Member: j.ID.String(),
			})
			return nil
		})
		return err
	}, key)
}

// Get implements job.Store.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(jobID.String())).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", adreel.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job %s: %w", jobID, err)
	}
	return decode(raw)
}

// Update implements job.Store. The terminal guard is enforced against
// the stored record inside the transaction, so a concurrent finish wins
// over a late update. Terminal records pick up the retention expiry and
// leave the running set.
func (s *Store) Update(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	return kv.Atomic(ctx, s.client, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", adreel.ErrJobNotFound, j.ID)
		}
		if err != nil {
			return err
		}
		stored, err := decode(raw)
		if err != nil {
			return err
		}
		if stored.State.IsTerminal() {
			return fmt.Errorf("%w: job %s is %s", adreel.ErrInvalidState, j.ID, stored.State)
		}

		j.UpdatedAt = time.Now().UTC()
		updated, err := encode(j)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			switch {
			case j.State == job.StateQueued:
				// Back on the queue, e.g. a retry with a future due time.
				pipe.ZAdd(ctx, queueKey(j.Queue), redis.Z{
					Score:  queueScore(j),
					Member: j.ID.String(),
				})
				pipe.ZRem(ctx, runningKey, j.ID.String())
			case j.State.IsTerminal():
				pipe.ZRem(ctx, runningKey, j.ID.String())
				if s.retention > 0 {
					pipe.Expire(ctx, key, s.retention)
				}
			}
			return nil
		})
		return err
	}, key)
}

// Close implements job.Store.
func (s *Store) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
