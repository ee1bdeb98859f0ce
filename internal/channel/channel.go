// Package channel dispatches shell command batches to the managed target and waits for
// them to finish.
package channel

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnreachable marks a target the channel cannot reach.
var ErrUnreachable = errors.New("target unreachable")

// ErrNotRegistered is returned by a Backend when an invocation id is not yet visible.
var ErrNotRegistered = errors.New("invocation not registered yet")

// ErrTransport marks a fetch that got no answer at all, as opposed to an API error.
var ErrTransport = errors.New("transport failure")

// Status is the observed state of an invocation.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusSuccess     Status = "Success"
	StatusFailed      Status = "Failed"
	StatusTimedOut    Status = "TimedOut"
	StatusCancelled   Status = "Cancelled"
	StatusUnreachable Status = "Unreachable"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimedOut, StatusCancelled, StatusUnreachable:
		return true
	default:
		return false
	}
}

// Outcome is what a caller may conclude from an invocation.
type Outcome int

const (
	// OutcomeUnknown means the caller stopped waiting before a terminal status.
	OutcomeUnknown Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Batch is an ordered list of shell commands executed as one script on the target.
type Batch struct {
	Commands []string
	Timeout  time.Duration
	Comment  string
}

// Invocation is the last observed snapshot of a dispatched batch.
type Invocation struct {
	ID     string
	Target string
	Status Status
	Stdout string
	Stderr string
	// ResponseCode is the exit status of the last command, -1 when not yet known.
	ResponseCode int
	Attempts     int
	// Err carries the transport cause for Unreachable, or why waiting stopped early.
	Err error
}

// Outcome classifies the invocation. Non-terminal snapshots are never success or failure.
func (i Invocation) Outcome() Outcome {
	switch i.Status {
	case StatusSuccess:
		return OutcomeSucceeded
	case StatusFailed, StatusTimedOut, StatusCancelled:
		return OutcomeFailed
	case StatusUnreachable:
		return OutcomeUnreachable
	default:
		return OutcomeUnknown
	}
}

// Output returns trimmed stdout.
func (i Invocation) Output() string {
	return strings.TrimSpace(i.Stdout)
}

// Combined returns stdout followed by stderr.
func (i Invocation) Combined() string {
	return i.Stdout + i.Stderr
}

// Channel runs command batches on the target. Dispatch never returns an error: transport
// problems surface as StatusUnreachable, exhausted waits as a non-terminal status.
type Channel interface {
	Dispatch(ctx context.Context, batch Batch) Invocation
}

// Backend is the submit/observe pair a Poller drives.
type Backend interface {
	Target() string
	Send(ctx context.Context, batch Batch) (string, error)
	Fetch(ctx context.Context, id string) (Invocation, error)
}

// Unreachable builds the invocation returned when the target cannot be reached.
func Unreachable(target string, err error) Invocation {
	return Invocation{Target: target, Status: StatusUnreachable, Err: err}
}
