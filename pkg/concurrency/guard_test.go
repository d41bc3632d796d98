package concurrency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyGuard_RejectsWhileBusy(t *testing.T) {
	g := NewConcurrencyGuard()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- g.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.True(t, g.busy())
	assert.ErrorIs(t, g.Execute(func() error { return nil }), ErrBusy)

	close(release)
	assert.NoError(t, <-done)
	assert.False(t, g.busy())
}

func TestConcurrencyGuard_PropagatesTaskError(t *testing.T) {
	g := NewConcurrencyGuard()
	boom := errors.New("boom")

	assert.ErrorIs(t, g.Execute(func() error { return boom }), boom)
	assert.False(t, g.busy(), "guard is released after a failing task")
	assert.NoError(t, g.Execute(func() error { return nil }))
}
