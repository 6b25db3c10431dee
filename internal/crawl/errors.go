package crawl

import (
	"errors"
	"fmt"
)

// Failure reasons recorded on queue items. These are the user-visible
// strings surfaced through the management API, never raw stack traces.
const (
	ReasonRobotsBlocked = "blocked by robots"
	ReasonFetchError    = "fetch error"
	ReasonNoContent     = "no meaningful content"
	ReasonStoreError    = "store error"
	ReasonShutdown      = "worker shutdown"
)

// ErrPolicyBlocked marks a URL disallowed by robots.txt. Not retryable.
var ErrPolicyBlocked = errors.New(ReasonRobotsBlocked)

// ErrNoContent marks an extraction that produced no meaningful text.
// Not retryable.
var ErrNoContent = errors.New(ReasonNoContent)

// FetchError wraps network, timeout and non-2xx failures. It is the only
// error kind eligible for bounded retry.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether the error may be retried by the frontier.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
