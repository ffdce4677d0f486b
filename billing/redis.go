package billing

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMarker records granted payment ids in the shared store so replayed
// webhooks are rejected across all API instances.
type RedisMarker struct {
	client redis.UniversalClient
}

// NewRedisMarker creates a RedisMarker on the given client.
func NewRedisMarker(client redis.UniversalClient) *RedisMarker {
	return &RedisMarker{client: client}
}

// Mark implements Marker via SETNX. The key expires after markerTTL.
func (m *RedisMarker) Mark(ctx context.Context, paymentID string) (bool, error) {
	fresh, err := m.client.SetNX(ctx, "billing:payment:"+paymentID, "1", markerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("billing: mark %s: %w", paymentID, err)
	}
	return fresh, nil
}

var _ Marker = (*RedisMarker)(nil)
