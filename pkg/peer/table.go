package peer

import (
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/pion/webrtc/v4"

	"github.com/rescp17/peerlink/pkg/transfer"
)

// entry is the live state of one peer connection. id is written only while
// holding both Coordinator.mu and entry.mu; holding either is enough to read it.
type entry struct {
	mu sync.Mutex

	id      string
	conn    Conn
	channel transfer.DataChannel
	origin  Origin
	silent  bool
	video   bool
	state   State
	closed  bool

	// local candidates collected for a manual payload
	localCandidates []webrtc.ICECandidateInit
}

func (e *entry) status() PeerStatus {
	return PeerStatus{
		ID:     e.id,
		State:  e.state,
		Origin: e.origin,
		Silent: e.silent,
		Video:  e.video,
	}
}

func (e *entry) channelOpen() bool {
	return e.channel != nil && e.channel.IsOpen()
}

// peerTable holds every per-peer map. All access is under Coordinator.mu.
type peerTable struct {
	entries    map[string]*entry
	candidates map[string][]webrtc.ICECandidateInit // remote, waiting for a remote description
	attempts   map[string]int
	timers     map[string][]*clock.Timer
}

func newPeerTable() *peerTable {
	return &peerTable{
		entries:    make(map[string]*entry),
		candidates: make(map[string][]webrtc.ICECandidateInit),
		attempts:   make(map[string]int),
		timers:     make(map[string][]*clock.Timer),
	}
}

// current reports whether e is still the entry registered under its id.
func (t *peerTable) current(e *entry) bool {
	cur, ok := t.entries[e.id]
	return ok && cur == e
}

func (t *peerTable) queueCandidate(id string, c webrtc.ICECandidateInit) {
	t.candidates[id] = append(t.candidates[id], c)
}

func (t *peerTable) takeCandidates(id string) []webrtc.ICECandidateInit {
	c := t.candidates[id]
	delete(t.candidates, id)
	return c
}

func (t *peerTable) addTimer(id string, timer *clock.Timer) {
	t.timers[id] = append(t.timers[id], timer)
}

func (t *peerTable) stopTimers(id string) {
	for _, timer := range t.timers[id] {
		timer.Stop()
	}
	delete(t.timers, id)
}

// rename moves every key of from to to. Callers check for clashes first.
func (t *peerTable) rename(from, to string) {
	if e, ok := t.entries[from]; ok {
		delete(t.entries, from)
		t.entries[to] = e
	}
	if c, ok := t.candidates[from]; ok {
		delete(t.candidates, from)
		t.candidates[to] = append(t.candidates[to], c...)
	}
	if n, ok := t.attempts[from]; ok {
		delete(t.attempts, from)
		t.attempts[to] = n
	}
	if timers, ok := t.timers[from]; ok {
		delete(t.timers, from)
		t.timers[to] = append(t.timers[to], timers...)
	}
}

// drop forgets id. Reconnect bookkeeping survives when keepRetry is set.
func (t *peerTable) drop(id string, keepRetry bool) {
	delete(t.entries, id)
	delete(t.candidates, id)
	if !keepRetry {
		delete(t.attempts, id)
		t.stopTimers(id)
	}
}

// residual counts the keys held for id across every map.
func (t *peerTable) residual(id string) int {
	n := 0
	if _, ok := t.entries[id]; ok {
		n++
	}
	if _, ok := t.candidates[id]; ok {
		n++
	}
	if _, ok := t.attempts[id]; ok {
		n++
	}
	if _, ok := t.timers[id]; ok {
		n++
	}
	return n
}
