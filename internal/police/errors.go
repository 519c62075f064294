package police

import "fmt"

// ErrorClass partitions fetch failures by how the sync engine should react.
type ErrorClass string

// Fetch error classes.
const (
	// ClassTemporary failures (timeouts, 5xx, connection resets, rate
	// limiting) are retried by the fetch adapter.
	ClassTemporary ErrorClass = "temporary"
	// ClassPermanent failures (other 4xx, malformed responses) are returned
	// immediately without retrying.
	ClassPermanent ErrorClass = "permanent"
	// ClassExhausted means the retry budget ran out on temporary failures.
	ClassExhausted ErrorClass = "exhausted"
)

// FetchError is the terminal error returned by the fetch adapter. Attempts
// records how many calls were made before giving up.
type FetchError struct {
	Class    ErrorClass
	Attempts int
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.Class, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Temporary reports whether the failure is worth retrying.
func (e *FetchError) Temporary() bool {
	return e.Class == ClassTemporary
}
