package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"multimodal/internal/apperrors"
	"multimodal/internal/job"

	"github.com/redis/go-redis/v9"
)

// Redis stores each job as a JSON string under <prefix>:job:<id> and keeps a
// sorted set <prefix>:jobs scored by creation time for newest-first listing.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects to the server in cfg and verifies it answers.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	cfg = cfg.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("Job store opened", "component", "jobstore", "backend", BackendRedis, "addr", cfg.RedisAddr)
	return NewRedisFromClient(rdb, cfg.RedisPrefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (s *Redis) jobKey(id string) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, id)
}

func (s *Redis) indexKey() string {
	return s.prefix + ":jobs"
}

// Create implements job.Store.
func (s *Redis) Create(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return apperrors.Internal("redis.create", err)
	}

	created, err := s.rdb.SetNX(ctx, s.jobKey(j.ID), data, 0).Result()
	if err != nil {
		return apperrors.Internal("redis.create", err)
	}
	if !created {
		return apperrors.Conflict("job", j.ID, fmt.Sprintf("job %s already exists", j.ID))
	}

	err = s.rdb.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(j.Metadata.CreatedAt.UnixNano()),
		Member: j.ID,
	}).Err()
	if err != nil {
		return apperrors.Internal("redis.create", err)
	}
	return nil
}

// Get implements job.Store.
func (s *Redis) Get(ctx context.Context, id string) (*job.Job, error) {
	data, err := s.rdb.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NotFound("job", id)
	}
	if err != nil {
		return nil, apperrors.Internal("redis.get", err)
	}
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, apperrors.Internal("redis.get", err)
	}
	return &j, nil
}

// Update implements job.Store.
func (s *Redis) Update(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return apperrors.Internal("redis.update", err)
	}
	updated, err := s.rdb.SetXX(ctx, s.jobKey(j.ID), data, 0).Result()
	if err != nil {
		return apperrors.Internal("redis.update", err)
	}
	if !updated {
		return apperrors.NotFound("job", j.ID)
	}
	return nil
}

// List implements job.Store.
func (s *Redis) List(ctx context.Context, limit, offset int) ([]*job.Job, error) {
	if limit <= 0 {
		return []*job.Job{}, nil
	}
	offset = max(offset, 0)
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, apperrors.Internal("redis.list", err)
	}
	jobs := []*job.Job{}
	if len(ids) == 0 {
		return jobs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, apperrors.Internal("redis.list", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Indexed but the record is gone.
			continue
		}
		var j job.Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return nil, apperrors.Internal("redis.list", fmt.Errorf("job %s: %w", ids[i], err))
		}
		jobs = append(jobs, &j)
	}
	return jobs, nil
}

// Ping implements job.Store.
func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close implements job.Store.
func (s *Redis) Close() error {
	return s.rdb.Close()
}
