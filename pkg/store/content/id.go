package content

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MaxIDLength bounds IDs so they fit in a filename and an object key.
const MaxIDLength = 200

// ID identifies content within one store. It is what the drive records as
// a file's ContentRef.
type ID string

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Validate rejects IDs that cannot be mapped safely to a path or key:
// empty, too long, containing separators or control characters, or made of
// dots only.
func (id ID) Validate() error {
	s := string(id)
	if s == "" {
		return fmt.Errorf("empty id: %w", ErrInvalidContentID)
	}
	if len(s) > MaxIDLength {
		return fmt.Errorf("id longer than %d bytes: %w", MaxIDLength, ErrInvalidContentID)
	}
	if strings.Trim(s, ".") == "" {
		return fmt.Errorf("id %q: %w", s, ErrInvalidContentID)
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return fmt.Errorf("id %q contains %q: %w", s, r, ErrInvalidContentID)
		}
	}
	return nil
}
