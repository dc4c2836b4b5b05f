package domain

import "github.com/pkg/errors"

var (
	// ErrProviderUnavailable marks a geocoder, embedder or search backend that is
	// unreachable or answered with a failure.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrMalformedInput marks a request missing required fields. It is returned
	// before any network call is made.
	ErrMalformedInput = errors.New("malformed input")

	// ErrConfig marks missing or invalid settings detected at construction time.
	ErrConfig = errors.New("invalid configuration")
)
