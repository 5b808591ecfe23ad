package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/jobshop-planner/model"
)

// MakespanIndexKey is the sorted set of run ids scored by makespan.
const MakespanIndexKey = "schedules:by_makespan"

// ErrRunNotFound is returned by Load for an unknown run id.
var ErrRunNotFound = errors.New("schedule run not found")

// ScheduleKey returns the hash key holding one run's export.
func ScheduleKey(runID string) string {
	return "schedule:" + runID
}

// Store is the subset of redis.Cmdable the publisher needs.
type Store interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Record is one published run.
type Record struct {
	RunID       string
	Quality     model.Quality
	Makespan    int
	Rows        []model.ExportRow
	PublishedAt time.Time
}

// RedisPublisher stores schedule exports in Redis.
type RedisPublisher struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewRedisPublisher returns a publisher writing to store. A positive ttl
// expires each run's hash; the makespan index is kept.
func NewRedisPublisher(store Store, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{store: store, ttl: ttl, now: time.Now}
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Publish stores the schedule's rows and summary at schedule:<runID> and
// adds the run to the makespan index.
func (p *RedisPublisher) Publish(ctx context.Context, runID string, s *model.Schedule) error {
	if runID == "" {
		return errors.New("publish: empty run id")
	}
	rows := s.Export()
	if rows == nil {
		rows = []model.ExportRow{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}

	key := ScheduleKey(runID)
	err = p.store.HSet(ctx, key, map[string]interface{}{
		"rows":         string(data),
		"makespan":     s.Makespan(),
		"quality":      string(s.Quality()),
		"operations":   s.Len(),
		"published_at": p.now().Unix(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store schedule %s: %w", runID, err)
	}
	if p.ttl > 0 {
		if err := p.store.Expire(ctx, key, p.ttl).Err(); err != nil {
			return fmt.Errorf("failed to set ttl on %s: %w", key, err)
		}
	}

	err = p.store.ZAdd(ctx, MakespanIndexKey, redis.Z{
		Score:  float64(s.Makespan()),
		Member: runID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index schedule %s: %w", runID, err)
	}
	return nil
}

// Load reads a published run back.
func (p *RedisPublisher) Load(ctx context.Context, runID string) (*Record, error) {
	fields, err := p.store.HGetAll(ctx, ScheduleKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %s: %w", runID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rec := &Record{RunID: runID, Quality: model.Quality(fields["quality"])}
	if rec.Makespan, err = strconv.Atoi(fields["makespan"]); err != nil {
		return nil, fmt.Errorf("schedule %s: bad makespan %q: %w", runID, fields["makespan"], err)
	}
	if err := json.Unmarshal([]byte(fields["rows"]), &rec.Rows); err != nil {
		return nil, fmt.Errorf("schedule %s: bad rows: %w", runID, err)
	}
	if ts, err := strconv.ParseInt(fields["published_at"], 10, 64); err == nil {
		rec.PublishedAt = time.Unix(ts, 0)
	}
	return rec, nil
}
