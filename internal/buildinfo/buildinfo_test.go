package buildinfo

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestInfoAndLog(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})
	Version, Commit, Date = "1.2.3", "abcdef", "2026-01-01"

	if got := Info(); got != "version=1.2.3 commit=abcdef date=2026-01-01" {
		t.Fatalf("unexpected info: %s", got)
	}

	var buf bytes.Buffer
	origOut, origFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(origOut)
		log.SetFlags(origFlags)
	})

	Log("kiq-worker")
	got := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(got, "kiq-worker version=1.2.3") {
		t.Fatalf("unexpected log line: %s", got)
	}
}
