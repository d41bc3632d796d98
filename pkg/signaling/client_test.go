package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// relay is a minimal signaling server: it records what it receives and
// answers REGISTER with SUCCESS followed by any scripted messages.
type relay struct {
	received chan Message
	script   []Message
}

func (s *relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		s.received <- msg
		if msg.Type == TypeRegister {
			_ = conn.WriteJSON(Message{Type: TypeSuccess})
			for _, m := range s.script {
				_ = conn.WriteJSON(m)
			}
		}
	}
}

func startRelay(t *testing.T, script ...Message) (*relay, string) {
	t.Helper()
	r := &relay{received: make(chan Message, 16), script: script}
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return r, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_RegisterAndReceive(t *testing.T) {
	offer := Message{
		Type:         TypeOffer,
		FromUserID:   "bob",
		TargetUserID: "alice",
		SDP:          &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
	}
	r, url := startRelay(t, offer)

	client := NewClient(url, "alice")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	assert.True(t, client.IsOpen())

	select {
	case msg := <-r.received:
		assert.Equal(t, TypeRegister, msg.Type)
		assert.Equal(t, "alice", msg.FromUserID)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never saw REGISTER")
	}

	inbound := make(chan Message, 4)
	go func() {
		_ = client.Listen(ctx, func(m Message) { inbound <- m })
	}()

	first := <-inbound
	assert.Equal(t, TypeSuccess, first.Type)
	second := <-inbound
	assert.Equal(t, TypeOffer, second.Type)
	require.NotNil(t, second.SDP)
	assert.Equal(t, webrtc.SDPTypeOffer, second.SDP.Type)
	assert.Equal(t, "v=0", second.SDP.SDP)
}

func TestClient_SendRawMessage(t *testing.T) {
	r, url := startRelay(t)
	client := NewClient(url, "alice")
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	<-r.received

	idx := uint16(0)
	mid := "0"
	err := client.SendRawMessage(Message{
		Type:         TypeICECandidate,
		TargetUserID: "bob",
		Candidate:    &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx},
	}, true)
	require.NoError(t, err)

	select {
	case msg := <-r.received:
		assert.Equal(t, TypeICECandidate, msg.Type)
		assert.Equal(t, "alice", msg.FromUserID)
		assert.Equal(t, "bob", msg.TargetUserID)
		require.NotNil(t, msg.Candidate)
		assert.Contains(t, msg.Candidate.Candidate, "10.0.0.1")
	case <-time.After(2 * time.Second):
		t.Fatal("relay never saw candidate")
	}
}

func TestClient_NotConnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", "alice")
	assert.False(t, client.IsOpen())
	assert.ErrorIs(t, client.SendRawMessage(Message{Type: TypeOffer}, true), ErrNotConnected)
	assert.ErrorIs(t, client.Listen(context.Background(), func(Message) {}), ErrNotConnected)
	assert.NoError(t, client.Close())
}

func TestClient_ConnectFails(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1", "alice")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, client.Connect(ctx))
	assert.False(t, client.IsOpen())
}

func TestClient_ListenStopsOnCancel(t *testing.T) {
	_, url := startRelay(t)
	client := NewClient(url, "alice")
	require.NoError(t, client.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Listen(ctx, func(Message) {}) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
	assert.False(t, client.IsOpen())
}
