package locking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryAcquire_SucceedsOnFirstCall(t *testing.T) {
	m := NewManager()
	assert.True(t, m.TryAcquire("strategy-1"))
}

func TestTryAcquire_FailsWhileAlreadyHeld(t *testing.T) {
	m := NewManager()
	require := assert.New(t)

	require.True(m.TryAcquire("strategy-1"))
	require.False(m.TryAcquire("strategy-1"))
}

func TestTryAcquire_DifferentKeysDoNotContend(t *testing.T) {
	m := NewManager()
	assert.True(t, m.TryAcquire("strategy-1"))
	assert.True(t, m.TryAcquire("strategy-2"))
}

func TestRelease_AllowsReacquiringTheSameKey(t *testing.T) {
	m := NewManager()
	assert.True(t, m.TryAcquire("strategy-1"))
	m.Release("strategy-1")
	assert.True(t, m.TryAcquire("strategy-1"))
}

func TestRelease_WithoutPriorAcquirePanics(t *testing.T) {
	m := NewManager()
	assert.Panics(t, func() {
		m.Release("never-acquired")
	})
}
