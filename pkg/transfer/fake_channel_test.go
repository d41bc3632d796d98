package transfer

import (
	"errors"
	"sync"
	"sync/atomic"
)

// fakeChannel records frames and lets tests drive bufferedAmount and closure.
type fakeChannel struct {
	mu       sync.Mutex
	frames   []Frame
	closed   atomic.Bool
	buffered atomic.Uint64
	onSend   func(Frame)
	failAt   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{failAt: -1}
}

func (c *fakeChannel) record(f Frame) error {
	if c.closed.Load() {
		return errors.New("DataChannel is not opened")
	}
	c.mu.Lock()
	if c.failAt >= 0 && len(c.frames) == c.failAt {
		c.mu.Unlock()
		return errors.New("sctp write failed")
	}
	c.frames = append(c.frames, f)
	onSend := c.onSend
	c.mu.Unlock()
	if onSend != nil {
		onSend(f)
	}
	return nil
}

func (c *fakeChannel) Send(data []byte) error {
	return c.record(Frame{Data: append([]byte(nil), data...)})
}

func (c *fakeChannel) SendText(text string) error {
	return c.record(Frame{Data: []byte(text), IsString: true})
}

func (c *fakeChannel) BufferedAmount() uint64 { return c.buffered.Load() }
func (c *fakeChannel) IsOpen() bool           { return !c.closed.Load() }
func (c *fakeChannel) Close()                 { c.closed.Store(true) }

func (c *fakeChannel) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func (c *fakeChannel) binaryCount() int {
	n := 0
	for _, f := range c.Frames() {
		if !f.IsString {
			n++
		}
	}
	return n
}
