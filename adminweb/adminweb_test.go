package adminweb

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ruby2elixir/kiq/job"
	"github.com/ruby2elixir/kiq/reporter"
)

func TestHealthzReportsOK(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStreamBroadcastsReporterEvents(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the client before
	// publishing, since handleStream's registration races the test's
	// own Handle call below.
	time.Sleep(20 * time.Millisecond)

	j, err := job.New("Widgets::Ship", []interface{}{1})
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := s.Handle(context.Background(), reporter.Event{Kind: reporter.Success, Job: j, Queue: "default"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got wireEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if got.Kind != "success" || got.Class != "Widgets::Ship" || got.Queue != "default" {
		t.Fatalf("unexpected event payload: %+v", got)
	}
}

func TestHandleDoesNotBlockWhileClientNeverReads(t *testing.T) {
	s := New()
	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	// Flood well past the per-client backlog without ever reading;
	// Handle must still return promptly however far behind this
	// client falls.
	for i := 0; i < eventBacklog*3; i++ {
		_ = s.Handle(context.Background(), reporter.Event{Kind: reporter.Started, Queue: "default"})
	}

	done := make(chan struct{})
	go func() {
		_ = s.Handle(context.Background(), reporter.Event{Kind: reporter.Success, Queue: "default"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked; broadcast loop must never wait on a slow client")
	}
}
