package job

import (
	"encoding/json"
	"fmt"
)

// wireJob mirrors the reference system's JSON envelope field names
// exactly (spec.md §3, §6). Pointer fields are omitted on the wire
// when absent; RetryCount uses its own omitempty rule (0 is omitted).
type wireJob struct {
	Jid          string          `json:"jid"`
	Class        string          `json:"class"`
	Args         json.RawMessage `json:"args,omitempty"`
	Queue        string          `json:"queue,omitempty"`
	Retry        json.RawMessage `json:"retry,omitempty"`
	RetryCount   int             `json:"retry_count,omitempty"`
	At           *float64        `json:"at,omitempty"`
	CreatedAt    float64         `json:"created_at,omitempty"`
	EnqueuedAt   *float64        `json:"enqueued_at,omitempty"`
	FailedAt     *float64        `json:"failed_at,omitempty"`
	RetriedAt    *float64        `json:"retried_at,omitempty"`
	ErrorClass   *string         `json:"error_class,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	UniqueFor    *int64          `json:"unique_for,omitempty"`
	UniqueUntil  *string         `json:"unique_until,omitempty"`
	UniqueToken  *string         `json:"unique_token,omitempty"`
	UnlocksAt    *int64          `json:"unlocks_at,omitempty"`
}

// Encode renders the job as its wire JSON envelope: absent fields are
// stripped and retry_count is omitted entirely when zero, matching
// the reference system's wire format.
func (j *Job) Encode() ([]byte, error) {
	argsRaw, err := json.Marshal(j.Args)
	if err != nil {
		return nil, fmt.Errorf("job: encode args: %w", err)
	}
	if string(argsRaw) == "null" {
		argsRaw = []byte("[]")
	}

	var retryRaw []byte
	switch j.Retry.kind {
	case retryDisabledKind:
		retryRaw = []byte("false")
	case retryExplicitKind:
		retryRaw, err = json.Marshal(j.Retry.count)
		if err != nil {
			return nil, err
		}
	default:
		retryRaw = []byte("true")
	}

	w := wireJob{
		Jid:          j.Jid,
		Class:        j.Class,
		Args:         argsRaw,
		Queue:        j.Queue,
		Retry:        retryRaw,
		RetryCount:   j.RetryCount,
		At:           j.At,
		CreatedAt:    j.CreatedAt,
		EnqueuedAt:   j.EnqueuedAt,
		FailedAt:     j.FailedAt,
		RetriedAt:    j.RetriedAt,
		ErrorClass:   j.ErrorClass,
		ErrorMessage: j.ErrorMessage,
		UniqueFor:    j.UniqueFor,
		UniqueUntil:  j.UniqueUntil,
		UniqueToken:  j.UniqueToken,
		UnlocksAt:    j.UnlocksAt,
	}
	return json.Marshal(w)
}

// Decode parses a wire JSON envelope into a Job. Argument sub-objects
// retain their keyed (map) form; an absent args value is treated as an
// empty argument list, and any args value that is neither an array nor
// an object is rejected.
func Decode(payload []byte) (*Job, error) {
	if err := validateEnvelope(payload); err != nil {
		return nil, err
	}

	var w wireJob
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("job: decode: %w", err)
	}
	if w.Class == "" {
		return nil, fmt.Errorf("job: decode: missing class")
	}

	args, err := decodeArgs(w.Args)
	if err != nil {
		return nil, fmt.Errorf("job: decode args: %w", err)
	}

	retry, err := decodeRetry(w.Retry)
	if err != nil {
		return nil, fmt.Errorf("job: decode retry: %w", err)
	}

	queue := w.Queue
	if queue == "" {
		queue = DefaultQueue
	}

	j := &Job{
		Jid:          w.Jid,
		Class:        w.Class,
		Args:         args,
		Queue:        queue,
		Retry:        retry,
		RetryCount:   w.RetryCount,
		At:           w.At,
		CreatedAt:    w.CreatedAt,
		EnqueuedAt:   w.EnqueuedAt,
		FailedAt:     w.FailedAt,
		RetriedAt:    w.RetriedAt,
		ErrorClass:   w.ErrorClass,
		ErrorMessage: w.ErrorMessage,
		UniqueFor:    w.UniqueFor,
		UniqueUntil:  normalizeUntil(w.UniqueUntil),
		UniqueToken:  w.UniqueToken,
		UnlocksAt:    w.UnlocksAt,
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

func decodeArgs(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return []interface{}{}, nil
	}
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj, nil
	}
	return nil, fmt.Errorf("args must be a JSON array or object")
}

func decodeRetry(raw json.RawMessage) (Retry, error) {
	if len(raw) == 0 {
		return RetryDefault(), nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return RetryDefault(), nil
		}
		return RetryDisabled(), nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return RetryCap(n), nil
	}
	return Retry{}, fmt.Errorf("retry must be a boolean or an integer")
}
