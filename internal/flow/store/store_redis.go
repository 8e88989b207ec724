package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"idproof/internal/flow/models"
	id "idproof/pkg/domain"
	"idproof/pkg/platform/sentinel"
)

// RedisStore keeps one JSON document per user under idv:flow:<user>, with a
// sliding TTL so abandoned flows age out.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(userID id.UserID) string {
	return "idv:flow:" + userID.String()
}

func (s *RedisStore) Get(ctx context.Context, userID id.UserID) (*models.State, error) {
	raw, err := s.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get step state: %w", err)
	}
	return decode(raw)
}

// Save uses WATCH/MULTI so the version check and the write are atomic.
func (s *RedisStore) Save(ctx context.Context, state *models.State) error {
	k := key(state.UserID)
	next := *state
	next.Version++
	raw, err := encode(&next)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64
		stored, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("load step state: %w", err)
		default:
			prev, err := decode(stored)
			if err != nil {
				return err
			}
			current = prev.Version
		}
		if current != state.Version {
			return sentinel.ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, raw, s.ttl)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return sentinel.ErrStale
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrStale) {
			return err
		}
		return fmt.Errorf("save step state: %w", err)
	}
	state.Version = next.Version
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID id.UserID) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("delete step state: %w", err)
	}
	return nil
}
