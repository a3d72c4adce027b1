package cache

import "errors"

var (
	// ErrEmptyKey is returned by Manager operations given an empty key.
	ErrEmptyKey = errors.New("cache: empty key")
	// ErrNilLoader is returned by GetOrSet without a loader function.
	ErrNilLoader = errors.New("cache: nil loader")
)
