package gsnmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvance(t *testing.T) {
	gm := NewGsnManager(7)
	assert.Equal(t, uint64(7), gm.Current())
	assert.Equal(t, uint64(8), gm.Next())

	gm.Advance(gm.Next())
	assert.Equal(t, uint64(8), gm.Current())
}
