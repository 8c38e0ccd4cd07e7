package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/traficast/backend/internal/domain"
)

const (
	predictionsChannel = "traficast:predictions"
	latestKeyPrefix    = "traficast:predictions:latest:"
	latestKeyTTL       = 24 * time.Hour
)

// RedisPublisher fans out persisted predictions on a pub/sub channel and
// caches the latest record per location for cheap dashboard reads.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a Redis-backed publisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends the record to the predictions channel and refreshes the
// latest-per-location key.
func (p *RedisPublisher) Publish(ctx context.Context, record domain.PredictionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("publisher: failed to marshal prediction %d: %w", record.ID, err)
	}

	if err := p.client.Publish(ctx, predictionsChannel, data).Err(); err != nil {
		return fmt.Errorf("publisher: failed to publish prediction %d: %w", record.ID, err)
	}

	key := fmt.Sprintf("%s%d", latestKeyPrefix, record.LocationID)
	if err := p.client.Set(ctx, key, data, latestKeyTTL).Err(); err != nil {
		return fmt.Errorf("publisher: failed to cache latest prediction for location %d: %w", record.LocationID, err)
	}

	return nil
}

// NoopPublisher is used when Redis is not configured.
type NoopPublisher struct{}

// Publish discards the record.
func (NoopPublisher) Publish(ctx context.Context, record domain.PredictionRecord) error {
	return nil
}
