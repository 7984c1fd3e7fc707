package answers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/asterion-health/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisTier is the ephemeral tier backed by Redis, for deployments where
// the UI process and the store service are separate.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisTier(client *redis.Client, ttl time.Duration) *RedisTier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTier{client: client, ttl: ttl}
}

func redisKey(subjectID uuid.UUID, instrumentID string) string {
	return fmt.Sprintf("answers:%s:%s", subjectID, strings.ToLower(instrumentID))
}

func (r *RedisTier) Get(ctx context.Context, subjectID uuid.UUID, instrumentID string) (models.AnswerSet, bool, error) {
	raw, err := r.client.Get(ctx, redisKey(subjectID, instrumentID)).Result()
	if err == redis.Nil {
		return models.AnswerSet{}, false, nil
	}
	if err != nil {
		return models.AnswerSet{}, false, fmt.Errorf("ephemeral read: %w", err)
	}

	var set models.AnswerSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return models.AnswerSet{}, false, fmt.Errorf("ephemeral decode: %w", err)
	}
	return set, true, nil
}

func (r *RedisTier) Put(ctx context.Context, set models.AnswerSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("ephemeral encode: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(set.SubjectID, set.InstrumentID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("ephemeral write: %w", err)
	}
	return nil
}

func (r *RedisTier) Delete(ctx context.Context, subjectID uuid.UUID, instrumentID string) error {
	if instrumentID != "" {
		return r.client.Del(ctx, redisKey(subjectID, instrumentID)).Err()
	}
	keys, err := r.client.Keys(ctx, fmt.Sprintf("answers:%s:*", subjectID)).Result()
	if err != nil {
		return fmt.Errorf("ephemeral scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
