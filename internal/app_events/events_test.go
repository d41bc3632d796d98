package appevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmit(t *testing.T) {
	t.Run("delivers on buffered channel", func(t *testing.T) {
		ch := make(chan AppUIMessage, 1)
		ok := Emit(nil, ch, NotificationMsg{Message: "hi"})
		assert.True(t, ok)
		msg := <-ch
		assert.Equal(t, "hi", msg.(NotificationMsg).Message)
	})

	t.Run("nil channel drops", func(t *testing.T) {
		assert.False(t, Emit(nil, nil, NotificationMsg{}))
	})

	t.Run("done unblocks a full channel", func(t *testing.T) {
		ch := make(chan AppUIMessage)
		done := make(chan struct{})
		close(done)
		assert.False(t, Emit(done, ch, NotificationMsg{}))
	})
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "info", LevelInfo.String())
	assert.Equal(t, "warning", LevelWarning.String())
	assert.Equal(t, "error", LevelError.String())
	assert.Equal(t, "unknown", Level(42).String())
}
