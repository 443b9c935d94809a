package registry

import "fmt"

// RemoteError is a definitive rejection from the registry: a response
// arrived and it was not a success. Calls that produced a RemoteError are
// never retried, since the registry may already have acted on them.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("registry rejected request: status %d: %s", e.Status, e.Body)
}

// Unauthorized reports whether the rejection was an auth failure, meaning
// the caller needs to log in again.
func (e *RemoteError) Unauthorized() bool {
	return e.Status == 401 || e.Status == 403
}

// TransportError is a failure to get any response at all: connection
// refused, DNS failure, timeout mid-flight. These are the only failures the
// client retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("registry unreachable during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
