package jobstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/videoforge-api/internal/job"
)

// Compile-time check that Redis implements job.Store.
var _ job.Store = (*Redis)(nil)

// DefaultRedisTTL is how long a job record is kept after its last write.
const DefaultRedisTTL = 7 * 24 * time.Hour

// DefaultKeyPrefix namespaces job hashes.
const DefaultKeyPrefix = "videoforge:job:"

// maxTxRetries bounds optimistic-lock retries on concurrent writes.
const maxTxRetries = 5

// Redis stores each job as a hash that expires ttl after its last write.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis creates a Redis store. A non-positive ttl uses DefaultRedisTTL.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{rdb: rdb, prefix: DefaultKeyPrefix, ttl: ttl, now: time.Now}
}

// Upsert creates the job on first write and merges the patch.
func (r *Redis) Upsert(ctx context.Context, id string, p job.Patch) error {
	return r.modify(ctx, id, p, true)
}

// Update merges the patch into an existing job.
func (r *Redis) Update(ctx context.Context, id string, p job.Patch) error {
	return r.modify(ctx, id, p, false)
}

// Get retrieves a job by its ID.
func (r *Redis) Get(ctx context.Context, id string) (*job.Job, error) {
	fields, err := r.rdb.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, job.ErrJobNotFound
	}
	return jobFromHash(fields)
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) modify(ctx context.Context, id string, p job.Patch, create bool) error {
	key := r.key(id)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}

		now := r.now()
		var j *job.Job
		switch {
		case len(fields) > 0:
			if j, err = jobFromHash(fields); err != nil {
				return err
			}
		case create:
			j = job.NewRecord(id, now)
		default:
			return job.ErrJobNotFound
		}
		j.Apply(p, now)

		values, err := jobToHash(j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values)
			pipe.Expire(ctx, key, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, job.ErrJobNotFound) {
			return fmt.Errorf("write job %s: %w", id, err)
		}
		return err
	}
	return fmt.Errorf("write job %s: too many concurrent updates", id)
}

func jobToHash(j *job.Job) (map[string]any, error) {
	metadata, err := encodeMetadata(j.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":             j.ID,
		"status":         string(j.Status),
		"stage":          string(j.Stage),
		"progress":       j.Progress,
		"progress_label": j.ProgressLabel,
		"video_url":      j.VideoURL,
		"error":          j.Error,
		"origin_id":      j.OriginID,
		"metadata":       metadata,
		"created_at":     formatTime(j.CreatedAt),
		"updated_at":     formatTime(j.UpdatedAt),
		"completed_at":   formatTime(j.CompletedAt),
	}, nil
}

func jobFromHash(h map[string]string) (*job.Job, error) {
	j := &job.Job{
		ID:            h["id"],
		Status:        job.Status(h["status"]),
		Stage:         job.Stage(h["stage"]),
		ProgressLabel: h["progress_label"],
		VideoURL:      h["video_url"],
		Error:         h["error"],
		OriginID:      h["origin_id"],
	}

	var err error
	if v := h["progress"]; v != "" {
		if j.Progress, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("parse progress %q: %w", v, err)
		}
	}
	if j.Metadata, err = decodeMetadata(h["metadata"]); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(h["created_at"]); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(h["updated_at"]); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseTime(h["completed_at"]); err != nil {
		return nil, err
	}
	return j, nil
}
