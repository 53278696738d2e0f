package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycle_Draining(t *testing.T) {
	var l Lifecycle
	assert.False(t, l.IsDraining())
	assert.True(t, l.DrainingSince().IsZero())

	l.SetDraining(true)
	first := l.DrainingSince()
	assert.True(t, l.IsDraining())
	assert.False(t, first.IsZero())

	l.SetDraining(true)
	assert.Equal(t, first, l.DrainingSince())

	l.SetDraining(false)
	assert.False(t, l.IsDraining())
}

func TestLifecycle_NilIsNeverDraining(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	assert.False(t, l.IsDraining())
}
