package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInstalled indicates a call named a plugin with no installed document.
	ErrNotInstalled = errors.New("plugin not installed")

	// ErrOperationNotFound indicates a call named an operation absent from the
	// plugin's document.
	ErrOperationNotFound = errors.New("operation not found")

	// ErrMissingServerURL indicates the plugin document declares no server/base URL.
	ErrMissingServerURL = errors.New("missing server URL")

	// ErrDuplicateOperation indicates a document declares the same operationId
	// more than once. Rejected at install time rather than silently shadowed.
	ErrDuplicateOperation = errors.New("duplicate operationId")

	// ErrInvalidManifest indicates a manifest failed shape validation at import.
	ErrInvalidManifest = errors.New("invalid plugin manifest")

	// ErrManifestNotResolvable indicates setEnabled could not resolve a
	// manifest or document for the plugin ID. This is a user-facing warning
	// condition, not a fatal error.
	ErrManifestNotResolvable = errors.New("no manifest resolvable for plugin")
)

// URLError is the structured error for manifest/document fetch and parse
// failures, carrying the offending URL.
type URLError struct {
	URL string
	Err error
}

func (e *URLError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *URLError) Unwrap() error { return e.Err }
