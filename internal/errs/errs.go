// Package errs defines the error taxonomy shared by every signalbox component.
// Callers classify with errors.Is; wrapped context is added with fmt.Errorf("%w").
package errs

import "errors"

var (
	// ErrNotFound means the session, approval or question does not exist.
	// Not retryable.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved means a compare-and-set lost its race: someone else
	// already answered, responded to or expired the item. Treat as a no-op.
	ErrAlreadyResolved = errors.New("already resolved")

	// ErrTransport means the chat platform could not be reached or rejected
	// the call. Only the listener retries these.
	ErrTransport = errors.New("transport error")

	// ErrTimeout means an approval or question passed its deadline.
	ErrTimeout = errors.New("timed out")
)
