package manifest

import "errors"

var (
	// ErrIncompatibleVersion is returned when the manifest version is not supported.
	ErrIncompatibleVersion = errors.New("incompatible manifest version")

	// ErrNotFound is returned when a video has no CURRENT manifest.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt is returned when a manifest fails its integrity check.
	ErrCorrupt = errors.New("corrupt manifest")
)
