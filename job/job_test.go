package job

import (
	"testing"

	"github.com/ruby2elixir/kiq/clock"
)

func TestNewDefaults(t *testing.T) {
	j, err := New("WorkerClass", []interface{}{1.0, 2.0})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if j.Queue != DefaultQueue {
		t.Fatalf("expected default queue, got %q", j.Queue)
	}
	if !j.Retry.Allowed() || j.Retry.Cap() != DefaultRetryCap {
		t.Fatalf("expected default retry policy")
	}
}

func TestFinalizeFillsJidAndCreatedAt(t *testing.T) {
	j, err := New("W", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	fake := clock.NewFake(1000)
	fake.SetByteSequence([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	if err := j.Finalize(fake, fake); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if j.Jid != "0102030405060708090a0b0c" {
		t.Fatalf("unexpected jid: %s", j.Jid)
	}
	if j.CreatedAt != 1000 {
		t.Fatalf("expected created_at 1000, got %v", j.CreatedAt)
	}
}

func TestValidateRejectsEmptyClass(t *testing.T) {
	j := &Job{Class: "", Queue: "default"}
	if err := j.Validate(); err == nil {
		t.Fatalf("expected error for empty class")
	}
}

func TestValidateRejectsBadJid(t *testing.T) {
	j := &Job{Class: "W", Jid: "not-hex"}
	if err := j.Validate(); err == nil {
		t.Fatalf("expected error for malformed jid")
	}
}

func TestValidateRejectsNegativeRetryCount(t *testing.T) {
	j := &Job{Class: "W", RetryCount: -1}
	if err := j.Validate(); err == nil {
		t.Fatalf("expected error for negative retry_count")
	}
}

func TestValidateRequiresUniqueTokenWithUniqueFor(t *testing.T) {
	ms := int64(1000)
	j := &Job{Class: "W", UniqueFor: &ms}
	if err := j.Validate(); err == nil {
		t.Fatalf("expected error: unique_for without unique_token")
	}
}

func TestUniqueUntilNormalisedToAbsent(t *testing.T) {
	bogus := "whenever"
	j, err := New("W", nil, WithUniqueUntil(bogus))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if j.UniqueUntil != nil {
		t.Fatalf("expected unique_until to be normalised to absent, got %v", *j.UniqueUntil)
	}
}

func TestRetryPolicyVariants(t *testing.T) {
	if RetryDefault().Cap() != DefaultRetryCap {
		t.Fatalf("expected default cap %d", DefaultRetryCap)
	}
	if RetryDisabled().Allowed() {
		t.Fatalf("expected disabled retry to disallow")
	}
	if RetryCap(5).Cap() != 5 {
		t.Fatalf("expected explicit cap 5")
	}
	if RetryCap(-3).Cap() != 0 {
		t.Fatalf("expected negative cap clamped to 0")
	}
}

func TestArgsList(t *testing.T) {
	if got := ArgsList(nil); len(got) != 0 {
		t.Fatalf("expected empty list for nil args")
	}
	if got := ArgsList([]interface{}{1, 2}); len(got) != 2 {
		t.Fatalf("expected list passthrough")
	}
}
