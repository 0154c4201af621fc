package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewULID(t *testing.T) {
	previous := NewULID()
	for i := 0; i < 1000; i++ {
		id := NewULID()
		assert.Len(t, id, 26)
		assert.Equal(t, strings.ToLower(id), id)
		assert.Greater(t, id, previous)
		previous = id
	}
}
