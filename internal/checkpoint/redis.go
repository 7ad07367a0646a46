package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/AreteDriver/AI-Orchestra/pkg/api"
)

// RedisStore is a CheckpointStore backed by Redis. Checkpoints live under
// <prefix>ckpt:<id> as JSON, optionally bounded by a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ api.CheckpointStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore. prefix is optional but recommended
// (e.g. "orchestra:"); ttl of zero keeps checkpoints until deleted.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "orchestra:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + "ckpt:" + id
}

func (s *RedisStore) Save(ctx context.Context, ckpt *api.Checkpoint) (string, error) {
	if ckpt.ID == "" {
		ckpt.ID = uuid.NewString()
	}
	if ckpt.CreatedAt.IsZero() {
		ckpt.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ckpt)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(ckpt.ID), payload, s.ttl).Err(); err != nil {
		return "", err
	}
	return ckpt.ID, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*api.Checkpoint, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var ckpt api.Checkpoint
	if err := json.Unmarshal(payload, &ckpt); err != nil {
		return nil, &api.WorkflowError{
			Kind: api.WorkflowCheckpointCorrupt,
			Err:  fmt.Errorf("decode checkpoint %s: %w", id, err),
		}
	}
	return &ckpt, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}
