package content

import "errors"

// Standard content store errors. Implementations wrap them with the ID:
//
//	return fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
var (
	// ErrContentNotFound indicates the requested content does not exist.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidContentID indicates an ID that cannot be stored.
	ErrInvalidContentID = errors.New("invalid content ID")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("content store is closed")
)
