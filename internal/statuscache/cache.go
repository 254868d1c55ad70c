// Package statuscache absorbs dashboard refresh storms on the on-demand job
// status endpoint with a short-TTL Redis cache, so a burst of identical
// polls costs one provider round trip.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"clipforge/internal/domain"
)

// Snapshot is the cached view of a job's externally visible state.
type Snapshot struct {
	Status       domain.JobStatus  `json:"status"`
	ResultURL    string            `json:"result_url,omitempty"`
	ResultMeta   map[string]string `json:"result_meta,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// Cache is a nil-safe wrapper over Redis: a nil *Cache disables caching
// without callers having to branch.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis at url. An empty url returns a nil cache, which is
// valid and means caching is off.
func New(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Get returns the cached snapshot for a job, if fresh.
func (c *Cache) Get(ctx context.Context, jobID string) (Snapshot, bool) {
	if c == nil {
		return Snapshot{}, false
	}
	raw, err := c.rdb.Get(ctx, key(jobID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// Cache trouble is never worth failing a status read.
			return Snapshot{}, false
		}
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// Set stores a snapshot for the configured TTL. Errors are discarded: the
// cache is advisory.
func (c *Cache) Set(ctx context.Context, jobID string, snap Snapshot) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, key(jobID), raw, c.ttl)
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

func key(jobID string) string {
	return "clipforge:jobstatus:" + jobID
}
