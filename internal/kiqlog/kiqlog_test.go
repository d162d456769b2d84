package kiqlog

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"testing"
)

func TestInfoTextFormat(t *testing.T) {
	logFormatOnce = sync.Once{}
	logAsJSON = false

	var buf bytes.Buffer
	origOut, origFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(origOut)
		log.SetFlags(origFlags)
	})

	Info("producer", "polled queue", "queue", "default", "count", 3)
	got := strings.TrimSpace(buf.String())
	if !strings.Contains(got, "[PRODUCER] polled queue") || !strings.Contains(got, "queue=default") || !strings.Contains(got, "count=3") {
		t.Fatalf("unexpected log output: %s", got)
	}
}

func TestErrorJSONFormat(t *testing.T) {
	logFormatOnce = sync.Once{}
	logAsJSON = false
	t.Setenv("KIQ_LOG_FORMAT", "json")

	var buf bytes.Buffer
	origOut, origFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(origOut)
		log.SetFlags(origFlags)
	})

	Error("executor", "job failed", "jid", "abc123", "class", "Worker")
	line := strings.TrimSpace(buf.String())
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("expected json output, got: %s (%v)", line, err)
	}
	if payload["level"] != "ERROR" || payload["component"] != "executor" || payload["msg"] != "job failed" {
		t.Fatalf("unexpected json payload: %#v", payload)
	}
	if payload["jid"] != "abc123" {
		t.Fatalf("expected jid field, got %#v", payload)
	}
}

func TestFormatFieldsHandlesOddCount(t *testing.T) {
	out := formatFields("a", 1, "b")
	if !strings.Contains(out, "a=1") || !strings.Contains(out, "b=(missing)") {
		t.Fatalf("unexpected fields: %s", out)
	}
	if formatFields() != "" {
		t.Fatalf("expected empty output for no fields")
	}
}
