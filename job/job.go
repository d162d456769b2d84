// Package job holds the canonical in-memory representation of a Kiq
// job: construction from a caller-supplied map, the uniqueness token,
// and the invariants the rest of the system relies on.
package job

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ruby2elixir/kiq/clock"
)

// DefaultRetryCap is used when Retry is the boolean true rather than
// an explicit integer cap.
const DefaultRetryCap = 25

// DefaultQueue is the queue name used when none is given.
const DefaultQueue = "default"

// UntilStart and UntilSuccess are the only two values unique_until may
// take on the wire; any other value is normalised to absent.
const (
	UntilStart   = "start"
	UntilSuccess = "success"
)

type retryKind int

const (
	retryDefaultKind retryKind = iota // zero value: retry with DefaultRetryCap
	retryDisabledKind
	retryExplicitKind
)

// Retry is the union the reference system allows for a job's retry
// field: boolean (retry at all, using the default cap, or never) or a
// non-negative integer cap.
type Retry struct {
	kind  retryKind
	count int
}

// RetryDefault allows retries up to DefaultRetryCap. It is also the
// zero value of Retry, matching the reference system's default.
func RetryDefault() Retry { return Retry{kind: retryDefaultKind} }

// RetryDisabled never retries.
func RetryDisabled() Retry { return Retry{kind: retryDisabledKind} }

// RetryCap retries up to the given number of attempts. Negative values
// are clamped to zero.
func RetryCap(n int) Retry {
	if n < 0 {
		n = 0
	}
	return Retry{kind: retryExplicitKind, count: n}
}

// Allowed reports whether the job may be retried at all.
func (r Retry) Allowed() bool { return r.kind != retryDisabledKind }

// Cap returns the maximum retry_count this job may reach before it is
// dropped.
func (r Retry) Cap() int {
	switch r.kind {
	case retryExplicitKind:
		return r.count
	case retryDisabledKind:
		return 0
	default:
		return DefaultRetryCap
	}
}

// Job is the canonical representation of a unit of work. Optional
// fields are pointers so their absence on the wire is distinguishable
// from their zero value.
type Job struct {
	Jid   string
	Class string
	// Args is either []interface{} (an ordered argument list) or
	// map[string]interface{} (a single keyed object), decoded from
	// JSON so nested objects retain their keyed form.
	Args  interface{}
	Queue string
	Retry Retry

	RetryCount int

	At          *float64
	CreatedAt   float64
	EnqueuedAt  *float64
	FailedAt    *float64
	RetriedAt   *float64
	ErrorClass  *string
	ErrorMessage *string

	UniqueFor   *int64
	UniqueUntil *string
	UniqueToken *string
	UnlocksAt   *int64
}

// New constructs a Job from caller-supplied fields, defaulting Queue
// and Retry, normalising UniqueUntil to the closed set
// {start, success, absent}, and computing the unique token when
// UniqueFor is set. It does not fill Jid or CreatedAt; Finalize does.
func New(class string, args interface{}, opts ...Option) (*Job, error) {
	j := &Job{
		Class: class,
		Args:  args,
		Queue: DefaultQueue,
		Retry: RetryDefault(),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.Queue == "" {
		j.Queue = DefaultQueue
	}
	j.UniqueUntil = normalizeUntil(j.UniqueUntil)
	if err := j.ApplyUnique(); err != nil {
		return nil, err
	}
	return j, j.Validate()
}

// Option customises a Job built by New.
type Option func(*Job)

func WithJid(jid string) Option              { return func(j *Job) { j.Jid = jid } }
func WithQueue(queue string) Option          { return func(j *Job) { j.Queue = queue } }
func WithRetry(r Retry) Option               { return func(j *Job) { j.Retry = r } }
func WithAt(at float64) Option               { return func(j *Job) { j.At = &at } }
func WithCreatedAt(t float64) Option         { return func(j *Job) { j.CreatedAt = t } }
func WithUniqueFor(ms int64) Option          { return func(j *Job) { j.UniqueFor = &ms } }
func WithUniqueUntil(until string) Option    { return func(j *Job) { j.UniqueUntil = &until } }

// Finalize fills in Jid and CreatedAt when they are still absent,
// using clk/rng to keep tests deterministic. Construction from JSON
// does not call this (decoded jobs already carry both); only fresh
// enqueue-time construction does.
func (j *Job) Finalize(clk clock.Clock, rng clock.Random) error {
	if j.Jid == "" {
		id, err := RandomJid(rng)
		if err != nil {
			return fmt.Errorf("generate jid: %w", err)
		}
		j.Jid = id
	}
	if j.CreatedAt == 0 {
		j.CreatedAt = clk.Now()
	}
	return j.Validate()
}

// Validate enforces the invariants in spec.md §3.
func (j *Job) Validate() error {
	if j.Jid != "" && !isHex24(j.Jid) {
		return errors.New("job: jid must be 24 lowercase hex characters")
	}
	if j.Class == "" {
		return errors.New("job: class must not be empty")
	}
	if j.Args != nil {
		switch j.Args.(type) {
		case []interface{}, map[string]interface{}:
		default:
			return errors.New("job: args must be a list or a map")
		}
	}
	if j.RetryCount < 0 {
		return errors.New("job: retry_count must be >= 0")
	}
	if j.UniqueFor != nil && (j.UniqueToken == nil || *j.UniqueToken == "") {
		return errors.New("job: unique_for requires unique_token")
	}
	if j.UniqueUntil != nil && *j.UniqueUntil != UntilStart && *j.UniqueUntil != UntilSuccess {
		return errors.New("job: unique_until must be start, success, or absent")
	}
	return nil
}

// RandomJid draws 12 cryptographically random bytes and returns their
// lowercase hex encoding (24 characters).
func RandomJid(rng clock.Random) (string, error) {
	b, err := rng.Bytes(12)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalizeUntil(until *string) *string {
	if until == nil {
		return nil
	}
	switch *until {
	case UntilStart, UntilSuccess:
		return until
	default:
		return nil
	}
}

func isHex24(s string) bool {
	if len(s) != 24 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// ArgsList returns Args as an ordered list, allocating an empty slice
// when Args is nil (the common "no arguments" case).
func ArgsList(args interface{}) []interface{} {
	if args == nil {
		return []interface{}{}
	}
	if list, ok := args.([]interface{}); ok {
		return list
	}
	return []interface{}{args}
}
