package rhizome

import "errors"

var (
	// ErrReadingNotFound is returned when a reading id does not exist.
	ErrReadingNotFound = errors.New("rhizome: reading not found")

	// ErrUnsupportedFormat is returned for unrecognized export or import
	// formats.
	ErrUnsupportedFormat = errors.New("rhizome: unsupported format")

	// ErrInvalidMode is returned for a mapping mode other than control or
	// chaos.
	ErrInvalidMode = errors.New("rhizome: invalid mapping mode")

	// ErrInvalidRequest is returned for a request missing its question or
	// narrative.
	ErrInvalidRequest = errors.New("rhizome: invalid request")

	// ErrLLMRequestFailed is returned when a completion fails.
	ErrLLMRequestFailed = errors.New("rhizome: LLM request failed")

	// ErrEmbeddingsDisabled is returned by similarity search when no
	// embedding provider is configured.
	ErrEmbeddingsDisabled = errors.New("rhizome: no embedding provider configured")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("rhizome: embedding generation failed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("rhizome: invalid configuration")
)
