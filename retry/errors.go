package retry

import "errors"

// haltErr marks an operation error as terminal for the executor.
type haltErr struct {
	err error
}

func (h *haltErr) Error() string {
	return "halted: " + h.err.Error()
}

func (h *haltErr) Unwrap() error {
	return h.err
}

// Halt wraps err so that Execute stops immediately and returns err without
// further attempts. Use it for failures that cannot succeed on retry, such as
// a 4xx response on an HTTP call. Halt(nil) returns nil.
func Halt(err error) error {
	if err == nil {
		return nil
	}
	return &haltErr{err: err}
}

// IsHalted reports whether err carries the Halt marker.
func IsHalted(err error) bool {
	var h *haltErr
	return errors.As(err, &h)
}
