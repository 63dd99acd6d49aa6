package flatfile

import (
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// Kind classifies a download failure so callers can decide whether to
// retry without inspecting provider-specific error types.
type Kind string

const (
	// KindNotFound means the object does not exist. Terminal for the
	// requested date; on trading-day ranges this usually means a market
	// holiday, never worth a retry.
	KindNotFound Kind = "not_found"
	// KindTransient covers network failures, throttling and server-side
	// errors. Retrying with backoff is expected to help.
	KindTransient Kind = "transient"
	// KindFatal covers credential and client-side errors that no retry
	// can fix.
	KindFatal Kind = "fatal"
)

// Error is a classified object-storage failure.
type Error struct {
	Kind Kind
	Key  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("object storage %s (%s): %v", e.Key, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a classified not-found failure.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNotFound
}

// IsTransient reports whether err is a classified transient failure.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

// classify wraps a raw minio error with a retry kind. Anything that is
// not an S3 error response (connection resets, timeouts) is transient.
func classify(key string, err error) *Error {
	resp := minio.ToErrorResponse(err)
	kind := KindTransient
	switch {
	case resp.StatusCode == 404 || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket":
		kind = KindNotFound
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		kind = KindFatal
	case resp.StatusCode == 429 || resp.StatusCode >= 500:
		kind = KindTransient
	case resp.StatusCode >= 400:
		kind = KindFatal
	}
	return &Error{Kind: kind, Key: key, Err: err}
}
