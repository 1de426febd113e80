package domain

import "errors"

// Error taxonomy of the media engine. Every one of them is recoverable: the
// engine keeps its last good state and only reports the condition.
var (
	// ErrClassificationIgnored is reported for unknown topics and orphan continuations.
	ErrClassificationIgnored = errors.New("message ignored")
	// ErrBufferOverflow is reported when a fragment had to be clamped to the buffer capacity.
	ErrBufferOverflow = errors.New("reassembly buffer overflow")

	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrOutOfMemory       = errors.New("image exceeds memory budget")
	ErrMalformedStream   = errors.New("malformed image stream")
	ErrBufferIncomplete  = errors.New("image data incomplete")

	ErrParseMalformed       = errors.New("malformed state message")
	ErrMissingRequiredField = errors.New("state message missing required field")

	// ErrLockTimeout means the render handoff was not acquired in time; the update was dropped.
	ErrLockTimeout = errors.New("render lock timeout")
)
