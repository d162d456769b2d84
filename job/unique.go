package job

import (
	"crypto/sha1" //nolint:gosec // advisory dedup token, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// UniqueToken computes the deterministic SHA1 digest the reference
// system calls the job's uniqueness token, over (class, queue, args).
//
// The reference system hashes its host language's object-inspection
// syntax for args, which is not a portable wire format. This
// implementation instead canonicalises args through encoding/json,
// which already renders object keys in sorted order, and is stable
// across processes and across Go versions for any JSON-representable
// value. Per spec.md §9, tokens computed here will not match the
// reference system's tokens for the same arguments; uniqueness
// interop is best-effort by design, not by accident.
func UniqueToken(class, queue string, args interface{}) (string, error) {
	if args == nil {
		args = []interface{}{}
	}
	canonical, err := json.Marshal([]interface{}{class, queue, args})
	if err != nil {
		return "", fmt.Errorf("job: canonicalize unique token input: %w", err)
	}
	sum := sha1.Sum(canonical) //nolint:gosec
	return hex.EncodeToString(sum[:]), nil
}

// ApplyUnique computes and stores the job's unique token when UniqueFor
// is set, and leaves the job untouched otherwise.
func (j *Job) ApplyUnique() error {
	if j.UniqueFor == nil {
		return nil
	}
	token, err := UniqueToken(j.Class, j.Queue, j.Args)
	if err != nil {
		return err
	}
	j.UniqueToken = &token
	return nil
}
