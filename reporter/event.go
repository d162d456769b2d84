// Package reporter implements the fan-in lifecycle chain described in
// spec.md §4.4: every queue pipeline funnels started/success/failure
// events through the same ordered list of reporters.
package reporter

import "github.com/ruby2elixir/kiq/job"

// Kind identifies which of the three lifecycle events an Event
// carries.
type Kind int

const (
	Started Kind = iota
	Success
	Failure
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Event is a single lifecycle notification dispatched to every
// reporter in a Chain. Queue, NodeID, and Payload identify exactly
// which backup-list entry the job came from, since acknowledge
// operates on that raw payload rather than a re-encoded job.
type Event struct {
	Kind    Kind
	Job     *job.Job
	Queue   string
	NodeID  string
	Payload []byte
	Result  interface{}
	Err     error
}
