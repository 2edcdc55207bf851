package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestWarningSet tests deduplication, ordering and the size cap
func TestWarningSet(t *testing.T) {
	w := NewWarningSet(3)

	assert.True(t, w.Add("b"))
	assert.True(t, w.Add("a"))
	assert.False(t, w.Add("b"))
	assert.Equal(t, []string{"a", "b"}, w.List())

	assert.True(t, w.Add("c"))
	assert.Equal(t, 3, w.Len())

	// a fourth distinct message clears the set first
	assert.True(t, w.Add("d"))
	assert.Equal(t, []string{"d"}, w.List())

	w.Clear()
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.List())
}

// TestWarningSet_DefaultLimit tests that a non-positive limit uses the default
func TestWarningSet_DefaultLimit(t *testing.T) {
	w := NewWarningSet(0)
	for i := 0; i < DefaultWarningLimit; i++ {
		w.Add(fmt.Sprintf("warning %d", i))
	}
	assert.Equal(t, DefaultWarningLimit, w.Len())

	w.Add("one more")
	assert.Equal(t, 1, w.Len())
}
