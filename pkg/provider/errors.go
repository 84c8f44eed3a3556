package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for provider operations.
var (
	ErrNotFound            = errors.New("object not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrThrottled indicates the request was rate limited by the backend.
	ErrThrottled = errors.New("request throttled")
)

// ProviderError wraps backend errors with the operation and location that
// failed.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string
	Key      string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Provider, e.Op, e.Bucket, e.Key, e.Err)
	}
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Bucket, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAccessDenied reports whether err means permissions were insufficient.
func IsAccessDenied(err error) bool { return errors.Is(err, ErrAccessDenied) }

// IsBucketNotFound reports whether err means the bucket does not exist.
func IsBucketNotFound(err error) bool { return errors.Is(err, ErrBucketNotFound) }

// IsInvalidCredentials reports whether err means authentication failed.
func IsInvalidCredentials(err error) bool { return errors.Is(err, ErrInvalidCredentials) }

// IsProviderUnavailable reports whether err means the backend is down.
func IsProviderUnavailable(err error) bool { return errors.Is(err, ErrProviderUnavailable) }

// IsThrottled reports whether err means the request was rate limited.
func IsThrottled(err error) bool { return errors.Is(err, ErrThrottled) }

// IsRetryable reports whether the operation may succeed if tried again.
func IsRetryable(err error) bool {
	return IsThrottled(err) || IsProviderUnavailable(err)
}
