package runner

import "fmt"

// RuntimeError captures errors that should not stop the runner loop. Partial is set when
// the pass still checked services and only a later step such as persistence failed.
type RuntimeError struct {
	Op      string
	Err     error
	Partial bool
}

func (e *RuntimeError) Error() string {
	if e.Partial {
		return fmt.Sprintf("%s (partial): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func wrapRuntime(op string, err error, partial bool) error {
	if err == nil {
		return nil
	}
	return &RuntimeError{Op: op, Err: err, Partial: partial}
}
