package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelbench-go/internal/coordinator/queue"
	"github.com/modelbench-go/pkg/logger"
)

const (
	archiveKeyPrefix = "modelbench:job:"
	archiveTTL       = 7 * 24 * time.Hour
)

// RedisArchive keeps terminal jobs in Redis with a 7-day TTL.
type RedisArchive struct {
	client *redis.Client
	logger logger.Logger
}

type RedisArchiveConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

func NewRedisArchive(ctx context.Context, cfg RedisArchiveConfig, log logger.Logger) (*RedisArchive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisArchive{client: client, logger: log}, nil
}

// NewRedisArchiveFromClient wraps an existing client. Used by tests.
func NewRedisArchiveFromClient(client *redis.Client, log logger.Logger) *RedisArchive {
	return &RedisArchive{client: client, logger: log}
}

func (a *RedisArchive) ArchiveJob(ctx context.Context, job *queue.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := archiveKeyPrefix + job.ID
	if err := a.client.Set(ctx, key, data, archiveTTL).Err(); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	return nil
}

func (a *RedisArchive) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	data, err := a.client.Get(ctx, archiveKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}

	var job queue.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (a *RedisArchive) Close() error {
	return a.client.Close()
}
