package registrykv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireIsCompareAndSet(t *testing.T) {
	s := New()
	assert.True(t, s.Acquire("a"))
	assert.False(t, s.Acquire("a"))
	assert.True(t, s.Has("a"))
}

func TestReleaseThenAcquireAgain(t *testing.T) {
	s := New()
	s.Acquire("a")
	s.Release("a")
	assert.False(t, s.Has("a"))
	assert.True(t, s.Acquire("a"))
}

func TestReleaseOfUnsetKeyIsANoOp(t *testing.T) {
	s := New()
	s.Release("never-set")
	assert.False(t, s.Has("never-set"))
}

func TestKeysSnapshot(t *testing.T) {
	s := New()
	s.Acquire("a")
	s.Acquire("b")
	s.Release("b")
	assert.ElementsMatch(t, []string{"a"}, s.Keys())
}
