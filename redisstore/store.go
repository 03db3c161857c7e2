// Package redisstore persists failed tasks in Redis: a hash holds the task
// records and a sorted set scored by next-run time is the ready view. It
// serves a single process; cross-process coordination is out of scope.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	redo "github.com/calleros/redo-go"
)

const defaultTimeout = 3 * time.Second

// Options configures a Store.
type Options struct {
	// Prefix namespaces all keys; defaults to "redo".
	Prefix string
	// Timeout bounds each Redis round trip; defaults to 3s.
	Timeout time.Duration
}

// Store is a redo.Store backed by Redis.
type Store struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// New wraps an existing Redis client.
func New(client *redis.Client, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "redo"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Store{
		client:  client,
		prefix:  opts.Prefix,
		timeout: opts.Timeout,
	}
}

func (s *Store) tasksKey() string { return s.prefix + ":tasks" }
func (s *Store) readyKey() string { return s.prefix + ":ready" }
func (s *Store) idKey() string    { return s.prefix + ":task_id" }

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Put(t *redo.Task) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if t.ID == redo.UnassignedID {
		id, err := s.client.Incr(ctx, s.idKey()).Result()
		if err != nil {
			return fmt.Errorf("%w: %s", redo.ErrData, err)
		}
		t.ID = id
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%w: %s", redo.ErrData, err)
	}

	field := taskField(t.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.tasksKey(), field, data)
	if t.State == redo.StateFailed {
		pipe.ZAdd(ctx, s.readyKey(), redis.Z{
			Score:  score(t.NextRunTime),
			Member: field,
		})
	} else {
		pipe.ZRem(ctx, s.readyKey(), field)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return nil
}

func (s *Store) TakeReady() (*redo.Task, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	now := score(time.Now())
	for {
		ids, err := s.client.ZRangeByScore(ctx, s.readyKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatFloat(now, 'f', -1, 64),
			Count: 1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		removed, err := s.client.ZRem(ctx, s.readyKey(), ids[0]).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
		}
		if removed == 0 {
			continue // lost a race with Remove, try the next entry
		}
		t, err := s.getTask(ctx, ids[0])
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue // record deleted underneath the ready entry
		}
		return t, nil
	}
}

func (s *Store) PeekNext() (*redo.Task, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	ids, err := s.client.ZRange(ctx, s.readyKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.getTask(ctx, ids[0])
}

func (s *Store) Remove(id int64) error {
	ctx, cancel := s.ctx()
	defer cancel()

	field := taskField(id)
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.tasksKey(), field)
	pipe.ZRem(ctx, s.readyKey(), field)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return nil
}

func (s *Store) All() ([]*redo.Task, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	values, err := s.client.HGetAll(ctx, s.tasksKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	tasks := make([]*redo.Task, 0, len(values))
	for _, raw := range values {
		var t redo.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// Flush drops every key the store owns. Intended for tests.
func (s *Store) Flush() error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.Del(ctx, s.tasksKey(), s.readyKey(), s.idKey()).Err(); err != nil {
		return fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return nil
}

func (s *Store) getTask(ctx context.Context, field string) (*redo.Task, error) {
	raw, err := s.client.HGet(ctx, s.tasksKey(), field).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	var t redo.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("%w: %s", redo.ErrData, err)
	}
	return &t, nil
}

// taskField renders an ID zero-padded so that members with equal scores
// sort in ID order: Redis breaks score ties lexicographically.
func taskField(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// score maps next-run times onto sorted-set scores. The zero time maps to
// a score far in the past, so an AnyTime task always sorts first.
func score(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
