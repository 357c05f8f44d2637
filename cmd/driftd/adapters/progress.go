package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/flowops/driftd/common/logger"
	"github.com/flowops/driftd/common/redis"
)

const (
	progressChannel = "jobs:progress"
	progressKeyTTL  = 24 * time.Hour
)

// RedisProgressSink publishes job progress to redis: a hash per job for
// pollers, plus a pub/sub event for live subscribers.
type RedisProgressSink struct {
	redis *redis.Client
	log   *logger.Logger
}

// NewRedisProgressSink creates a redis-backed progress sink
func NewRedisProgressSink(redisClient *redis.Client, log *logger.Logger) *RedisProgressSink {
	return &RedisProgressSink{redis: redisClient, log: log}
}

func (s *RedisProgressSink) jobKey(jobID string) string {
	return "jobs:" + jobID
}

func (s *RedisProgressSink) publish(ctx context.Context, jobID, status string, fields map[string]interface{}) {
	event := map[string]interface{}{
		"job_id": jobID,
		"status": status,
	}
	for k, v := range fields {
		event[k] = v
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.redis.PublishEvent(ctx, progressChannel, string(payload)); err != nil {
		s.log.Warn("progress publish failed", "job_id", jobID, "error", err)
	}
}

// UpdateProgress records current/total/message for a running job
func (s *RedisProgressSink) UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error {
	key := s.jobKey(jobID)
	for field, value := range map[string]string{
		"status":  "running",
		"current": strconv.Itoa(current),
		"total":   strconv.Itoa(total),
		"message": message,
	} {
		if err := s.redis.SetHash(ctx, key, field, value); err != nil {
			return fmt.Errorf("failed to update progress for job %s: %w", jobID, err)
		}
	}
	if err := s.redis.Expire(ctx, key, progressKeyTTL); err != nil {
		s.log.Warn("failed to set progress key ttl", "job_id", jobID, "error", err)
	}

	s.publish(ctx, jobID, "running", map[string]interface{}{
		"current": current,
		"total":   total,
		"message": message,
	})
	return nil
}

// Complete marks a job finished with its result
func (s *RedisProgressSink) Complete(ctx context.Context, jobID string, result interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}

	key := s.jobKey(jobID)
	if err := s.redis.SetHash(ctx, key, "status", "completed"); err != nil {
		return fmt.Errorf("failed to mark job %s complete: %w", jobID, err)
	}
	if err := s.redis.SetHash(ctx, key, "result", string(resultJSON)); err != nil {
		return fmt.Errorf("failed to store job %s result: %w", jobID, err)
	}

	s.publish(ctx, jobID, "completed", map[string]interface{}{"result": result})
	return nil
}

// Fail marks a job failed with its error
func (s *RedisProgressSink) Fail(ctx context.Context, jobID string, jobErr error) error {
	key := s.jobKey(jobID)
	if err := s.redis.SetHash(ctx, key, "status", "failed"); err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}
	if err := s.redis.SetHash(ctx, key, "error", jobErr.Error()); err != nil {
		return fmt.Errorf("failed to store job %s error: %w", jobID, err)
	}

	s.publish(ctx, jobID, "failed", map[string]interface{}{"error": jobErr.Error()})
	return nil
}

// NopProgressSink discards progress. Used when no job tracker is wired,
// e.g. synchronous CLI-triggered syncs.
type NopProgressSink struct{}

func (NopProgressSink) UpdateProgress(ctx context.Context, jobID string, current, total int, message string) error {
	return nil
}

func (NopProgressSink) Complete(ctx context.Context, jobID string, result interface{}) error {
	return nil
}

func (NopProgressSink) Fail(ctx context.Context, jobID string, jobErr error) error {
	return nil
}
