// Package redisqueue is the sole component that talks to Redis
// (spec.md §4.2). It owns the wire key layout, the connection pool,
// and every atomic multi-step operation the rest of kiq needs:
// enqueue, scheduled enqueue, dequeue-into-backup, acknowledge,
// deschedule, retry, unlock, crash-recovery resurrection, and
// clear-all.
package redisqueue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruby2elixir/kiq/clock"
	"github.com/ruby2elixir/kiq/job"
)

const (
	knownQueuesKey  = "queues"
	scanBatchSize   = 200
	defaultOpJitter = 0 // no artificial delay; not referenced by any operation
)

// Client is the single Redis gateway described in spec.md §4.2. It
// holds no per-queue state; every method is a self-contained atomic
// unit from the caller's perspective.
type Client struct {
	rdb redis.UniversalClient
	clk clock.Clock
}

// Option customises Client construction.
type Option func(*clientConfig)

type clientConfig struct {
	poolSize int
	clk      clock.Clock
}

// WithPoolSize sets the number of long-lived connections in the pool
// (spec.md §4.2's "a pool of P long-lived connections").
func WithPoolSize(p int) Option {
	return func(c *clientConfig) { c.poolSize = p }
}

// WithClock injects the clock used to decide whether an enqueue is
// immediate or delayed. Defaults to clock.Real{}.
func WithClock(clk clock.Clock) Option {
	return func(c *clientConfig) { c.clk = clk }
}

// New connects to Redis at url and returns a ready Client.
func New(url string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{clk: clock.Real{}}
	for _, opt := range opts {
		opt(cfg)
	}
	rdb, err := newUniversalClient(url, cfg.poolSize)
	if err != nil {
		return nil, fmt.Errorf("redisqueue: build client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisqueue: connect: %w", err)
	}
	return &Client{rdb: rdb, clk: cfg.clk}, nil
}

// NewFromUniversalClient wraps an already-constructed client, which
// tests use to point a Client at a miniredis instance.
func NewFromUniversalClient(rdb redis.UniversalClient, clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Client{rdb: rdb, clk: clk}
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// QueueKey returns the Redis key for a queue's FIFO list.
func QueueKey(queue string) string { return "queue:" + queue }

// BackupKey returns the Redis key for a node's in-flight backup list
// for the given queue.
func BackupKey(queue, nodeID string) string { return "queue:" + queue + ":" + nodeID }

// UniqueKey returns the Redis key for a uniqueness lock.
func UniqueKey(token string) string { return "unique:" + token }

// Enqueue stores j per spec.md §4.2: a future j.At sends it to the
// "schedule" sorted set; otherwise it is pushed to its queue list. A
// held unique lock suppresses the write and returns the holder's jid
// in its place, rather than an error — a lock conflict is a silent
// success (spec.md §7).
func (c *Client) Enqueue(ctx context.Context, j *job.Job) (*job.Job, error) {
	if err := j.ApplyUnique(); err != nil {
		return nil, err
	}

	if j.UniqueFor != nil {
		holder, acquired, err := c.acquireUniqueLock(ctx, *j.UniqueToken, j.Jid, *j.UniqueFor)
		if err != nil {
			return nil, fmt.Errorf("redisqueue: enqueue unique lock: %w", err)
		}
		if !acquired {
			suppressed := *j
			suppressed.Jid = holder
			return &suppressed, nil
		}
		unlocksAt := c.clk.NowMs() + *j.UniqueFor
		j.UnlocksAt = &unlocksAt
	}

	now := c.clk.Now()
	if j.At != nil && *j.At > now {
		return c.scheduleJob(ctx, j)
	}
	return c.pushJob(ctx, j, now)
}

func (c *Client) acquireUniqueLock(ctx context.Context, token, jid string, ttlMs int64) (holderJid string, acquired bool, err error) {
	res, err := uniqueLockScript.Run(ctx, c.rdb, []string{UniqueKey(token)}, jid, ttlMs).Result()
	if err != nil {
		return "", false, err
	}
	holder, _ := res.(string)
	return holder, holder == jid, nil
}

func (c *Client) scheduleJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	payload, err := j.Encode()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: encode job: %w", err)
	}
	if err := c.rdb.ZAdd(ctx, "schedule", redis.Z{Score: *j.At, Member: payload}).Err(); err != nil {
		return nil, fmt.Errorf("redisqueue: schedule: %w", err)
	}
	return j, nil
}

func (c *Client) pushJob(ctx context.Context, j *job.Job, now float64) (*job.Job, error) {
	j.EnqueuedAt = &now
	payload, err := j.Encode()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: encode job: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, QueueKey(j.Queue), payload)
	pipe.SAdd(ctx, knownQueuesKey, j.Queue)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redisqueue: push: %w", err)
	}
	return j, nil
}

// Dequeue atomically moves up to count payloads from the tail of the
// queue list into the head of the node's backup list and returns
// their raw JSON. An empty result means the queue is currently empty;
// callers poll rather than block.
func (c *Client) Dequeue(ctx context.Context, queue string, count int, nodeID string) ([][]byte, error) {
	if count <= 0 {
		return nil, nil
	}
	res, err := dequeueScript.Run(ctx, c.rdb, []string{QueueKey(queue), BackupKey(queue, nodeID)}, count).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: dequeue: %w", err)
	}
	return toByteSlices(res)
}

// Acknowledge removes payload's first occurrence from the node's
// backup list for queue.
func (c *Client) Acknowledge(ctx context.Context, queue, nodeID string, payload []byte) error {
	if err := acknowledgeScript.Run(ctx, c.rdb, []string{BackupKey(queue, nodeID)}, payload).Err(); err != nil {
		return fmt.Errorf("redisqueue: acknowledge: %w", err)
	}
	return nil
}

// Deschedule moves every member of the named sorted set ("schedule"
// or "retry") whose score is <= now into its target queue list, and
// returns how many entries were moved.
func (c *Client) Deschedule(ctx context.Context, setName string, now float64) (int64, error) {
	res, err := descheduleScript.Run(ctx, c.rdb, []string{setName}, formatScore(now)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: deschedule %s: %w", setName, err)
	}
	n, _ := toInt64(res)
	return n, nil
}

// Retry re-inserts j into the "retry" sorted set. The caller (the
// retryer reporter) has already computed j's backoff and stored it in
// j.At; Retry just persists whatever score the job already carries,
// defaulting to now if the caller left it unset.
func (c *Client) Retry(ctx context.Context, j *job.Job) error {
	score := c.clk.Now()
	if j.At != nil {
		score = *j.At
	}
	payload, err := j.Encode()
	if err != nil {
		return fmt.Errorf("redisqueue: encode retry job: %w", err)
	}
	if err := c.rdb.ZAdd(ctx, "retry", redis.Z{Score: score, Member: payload}).Err(); err != nil {
		return fmt.Errorf("redisqueue: retry: %w", err)
	}
	return nil
}

// Unlock deletes the unique key for j only if its value still equals
// j.Jid, so a stale unlock can never release a lock a different jid
// has since acquired.
func (c *Client) Unlock(ctx context.Context, j *job.Job) error {
	if j.UniqueToken == nil {
		return nil
	}
	if err := unlockScript.Run(ctx, c.rdb, []string{UniqueKey(*j.UniqueToken)}, j.Jid).Err(); err != nil {
		return fmt.Errorf("redisqueue: unlock: %w", err)
	}
	return nil
}

// Resurrect moves every payload currently in the node's backup list
// for queue back onto that queue, preserving the order in which they
// will next be dequeued (the job that had been in flight longest is
// pushed to the front of the line), then clears the backup list. This
// is the supervisor's crash-recovery step (spec.md §4.6).
func (c *Client) Resurrect(ctx context.Context, queue, nodeID string) (int64, error) {
	res, err := resurrectScript.Run(ctx, c.rdb, []string{BackupKey(queue, nodeID), QueueKey(queue)}).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: resurrect %s: %w", queue, err)
	}
	n, _ := toInt64(res)
	return n, nil
}

// LockExists reports whether a uniqueness lock for token is currently
// held. It exists mainly for tests; production reporters only ever
// need Unlock's compare-and-delete semantics.
func (c *Client) LockExists(ctx context.Context, token string) (bool, error) {
	n, err := c.rdb.Exists(ctx, UniqueKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("redisqueue: lock exists: %w", err)
	}
	return n == 1, nil
}

// QueueNames returns every queue name the cluster has seen.
func (c *Client) QueueNames(ctx context.Context) ([]string, error) {
	names, err := c.rdb.SMembers(ctx, knownQueuesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: queue names: %w", err)
	}
	return names, nil
}

// QueueLen returns the number of payloads waiting in queue.
func (c *Client) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := c.rdb.LLen(ctx, QueueKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: queue len: %w", err)
	}
	return n, nil
}

// BackupLen returns the number of in-flight payloads for queue on
// nodeID.
func (c *Client) BackupLen(ctx context.Context, queue, nodeID string) (int64, error) {
	n, err := c.rdb.LLen(ctx, BackupKey(queue, nodeID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: backup len: %w", err)
	}
	return n, nil
}

// BackupMembers lists the raw payloads currently in nodeID's backup
// list for queue, head (most recently dequeued) first.
func (c *Client) BackupMembers(ctx context.Context, queue, nodeID string) ([][]byte, error) {
	vals, err := c.rdb.LRange(ctx, BackupKey(queue, nodeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: backup members: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// ClearAll removes every key this package manages: every queue list,
// every backup list for every queue, the schedule/retry sorted sets,
// every unique lock, and the known-queues set itself.
func (c *Client) ClearAll(ctx context.Context) error {
	queues, err := c.QueueNames(ctx)
	if err != nil {
		return err
	}

	var keys []string
	for _, q := range queues {
		keys = append(keys, QueueKey(q))
		backups, err := c.scanKeys(ctx, "queue:"+q+":*")
		if err != nil {
			return err
		}
		keys = append(keys, backups...)
	}
	keys = append(keys, "schedule", "retry")

	uniqueKeys, err := c.scanKeys(ctx, "unique:*")
	if err != nil {
		return err
	}
	keys = append(keys, uniqueKeys...)
	keys = append(keys, knownQueuesKey)

	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redisqueue: clear all: %w", err)
	}
	return nil
}

func (c *Client) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redisqueue: scan %s: %w", pattern, err)
	}
	return keys, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func toByteSlices(res interface{}) ([][]byte, error) {
	items, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("redisqueue: unexpected script result type %T", res)
	}
	out := make([][]byte, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		default:
			return nil, fmt.Errorf("redisqueue: unexpected item type %T", it)
		}
	}
	return out, nil
}

func toInt64(res interface{}) (int64, error) {
	switch v := res.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("redisqueue: unexpected int result type %T", res)
	}
}
