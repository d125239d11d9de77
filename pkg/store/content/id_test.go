package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestID_Validate(t *testing.T) {
	valid := []ID{"abc", "550e8400-e29b-41d4-a716-446655440000", "a.b", "..a", ID(strings.Repeat("x", MaxIDLength))}
	for _, id := range valid {
		assert.NoError(t, id.Validate(), id)
	}

	invalid := []ID{"", ".", "..", "a/b", `a\b`, "tab\there", ID(strings.Repeat("x", MaxIDLength+1))}
	for _, id := range invalid {
		assert.ErrorIs(t, id.Validate(), ErrInvalidContentID, id)
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.NoError(t, a.Validate())
	assert.Equal(t, string(a), a.String())
}
