package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineAccumulatorFeedIncremental(t *testing.T) {
	var a lineAccumulator

	lines := a.feed([]byte("foo\nbar"))
	assert.Equal(t, []string{"foo"}, lines)

	lines = a.feed([]byte("foo\nbar\nbaz\n"))
	assert.Equal(t, []string{"bar", "baz"}, lines)

	assert.Nil(t, a.feed([]byte("foo\nbar\nbaz\n")))
}

func TestLineAccumulatorFlush(t *testing.T) {
	var a lineAccumulator
	a.feed([]byte("partial"))
	assert.Equal(t, []string{"partial"}, a.flush())
	assert.Nil(t, a.flush())
}

func TestClampExitCode(t *testing.T) {
	assert.Equal(t, 0, clampExitCode(0))
	assert.Equal(t, 1, clampExitCode(1))
	assert.Equal(t, 2147483647, clampExitCode(1<<40))
	assert.Equal(t, -2147483648, clampExitCode(-(1 << 40)))
}
