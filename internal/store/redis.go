package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ZeusMX2125/topstep-engine/internal/config"
	"github.com/ZeusMX2125/topstep-engine/internal/risk"
	"github.com/redis/go-redis/v9"
)

// RedisSnapshotRepo persists governor snapshots under one key per account.
type RedisSnapshotRepo struct {
	client *redis.Client
	prefix string
}

func NewRedisSnapshotRepo(cfg config.RedisConfig) (*RedisSnapshotRepo, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisSnapshotRepo{client: client, prefix: "risk:snapshot"}, nil
}

func (r *RedisSnapshotRepo) Save(ctx context.Context, account string, snap risk.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.client.Set(ctx, r.key(account), payload, 0).Err()
}

func (r *RedisSnapshotRepo) Load(ctx context.Context, account string) (risk.Snapshot, bool, error) {
	var snap risk.Snapshot
	raw, err := r.client.Get(ctx, r.key(account)).Bytes()
	if err == redis.Nil {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

func (r *RedisSnapshotRepo) Close() error {
	return r.client.Close()
}

func (r *RedisSnapshotRepo) key(account string) string {
	return r.prefix + ":" + account
}
