package job

import "testing"

func TestUniqueTokenDeterministic(t *testing.T) {
	a, err := UniqueToken("W", "default", []interface{}{1.0, "x"})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, err := UniqueToken("W", "default", []interface{}{1.0, "x"})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical (class,queue,args) to hash identically: %s vs %s", a, b)
	}
	if len(a) != 40 {
		t.Fatalf("expected 40 hex chars (SHA1), got %d", len(a))
	}
}

func TestUniqueTokenDiffersByQueue(t *testing.T) {
	a, _ := UniqueToken("W", "default", []interface{}{1.0})
	b, _ := UniqueToken("W", "critical", []interface{}{1.0})
	if a == b {
		t.Fatalf("expected different queues to hash differently")
	}
}

func TestApplyUniqueSkippedWithoutUniqueFor(t *testing.T) {
	j, err := New("W", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := j.ApplyUnique(); err != nil {
		t.Fatalf("apply unique: %v", err)
	}
	if j.UniqueToken != nil {
		t.Fatalf("expected no token without unique_for")
	}
}

func TestApplyUniqueSetsToken(t *testing.T) {
	j := &Job{Class: "W", Queue: "default", Args: []interface{}{1.0}}
	ms := int64(60000)
	j.UniqueFor = &ms
	if err := j.ApplyUnique(); err != nil {
		t.Fatalf("apply unique: %v", err)
	}
	if j.UniqueToken == nil || *j.UniqueToken == "" {
		t.Fatalf("expected token to be set")
	}
}
