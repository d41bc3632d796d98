package node

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appevents "github.com/rescp17/peerlink/internal/app_events"
	"github.com/rescp17/peerlink/internal/config"
	"github.com/rescp17/peerlink/pkg/cache"
	"github.com/rescp17/peerlink/pkg/peer"
	"github.com/rescp17/peerlink/pkg/signaling"
	"github.com/rescp17/peerlink/pkg/transfer"
)

var errNoTransport = errors.New("no transport in tests")

type noRTC struct{}

func (noRTC) NewConnection() (peer.Conn, error) { return nil, errNoTransport }

func offlineConfig() *config.Config {
	cfg := config.Default()
	cfg.UserID = "alice"
	cfg.SignalingURL = ""
	cfg.Announce = false
	cfg.Cache = config.CacheMemory
	return cfg
}

func startApp(t *testing.T, cfg *config.Config, tweak func(*App)) *App {
	t.Helper()
	app, err := newApp(cfg, t.TempDir(), noRTC{}, clock.New())
	require.NoError(t, err)
	if tweak != nil {
		tweak(app)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
	return app
}

func nextMessage[T appevents.AppUIMessage](t *testing.T, app *App) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-app.UIMessages():
			if m, ok := msg.(T); ok {
				return m
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T received", zero)
			return zero
		}
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := offlineConfig()
	cfg.Cache = "redis"
	_, err := NewApp(cfg, t.TempDir())
	assert.ErrorContains(t, err, "invalid config")
}

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		backend config.CacheBackend
		file    bool
	}{
		{"memory", config.CacheMemory, false},
		{"sqlite", config.CacheSQLite, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := offlineConfig()
			cfg.Cache = tt.backend
			dir := t.TempDir()

			store, err := openStore(cfg, dir)
			require.NoError(t, err)
			defer store.Close()

			ctx := context.Background()
			require.NoError(t, store.Put(ctx, cache.Entry{Key: "k", Data: []byte("v"), StoredAt: time.Now()}))
			assert.ErrorIs(t, store.Put(ctx, cache.Entry{Key: "k", Data: []byte("w"), StoredAt: time.Now()}), cache.ErrExists)

			matches, err := filepath.Glob(filepath.Join(dir, cache.DefaultDBFileName))
			require.NoError(t, err)
			assert.Equal(t, tt.file, len(matches) == 1)
		})
	}
}

func TestApp_EventFailuresNotify(t *testing.T) {
	app := startApp(t, offlineConfig(), nil)

	app.AppEvents() <- appevents.SendTextEvent{PeerID: "bob", Text: "hi"}
	n := nextMessage[appevents.NotificationMsg](t, app)
	assert.Equal(t, appevents.LevelError, n.Level)
	assert.Equal(t, "bob", n.PeerID)
	assert.Contains(t, n.Message, "Message not sent")

	app.AppEvents() <- appevents.SendFileEvent{PeerID: "bob", Path: filepath.Join(t.TempDir(), "missing.bin")}
	n = nextMessage[appevents.NotificationMsg](t, app)
	assert.Contains(t, n.Message, "Cannot read file")

	// closing an unknown peer is not user visible
	app.AppEvents() <- appevents.ClosePeerEvent{PeerID: "bob"}

	app.AppEvents() <- appevents.ConnectPeerEvent{PeerID: "bob"}
	n = nextMessage[appevents.NotificationMsg](t, app)
	assert.Contains(t, n.Message, "Could not connect")
	assert.Contains(t, n.Message, transfer.ErrSignalingUnavailable.Error())
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := newApp(offlineConfig(), t.TempDir(), noRTC{}, clock.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestApp_SignalingUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := offlineConfig()
	cfg.SignalingURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	app := startApp(t, cfg, func(a *App) {
		a.retry = &transfer.RetryPolicy{MaxRetries: 0}
	})

	msg := nextMessage[appevents.AppErrorMsg](t, app)
	assert.ErrorContains(t, msg.Err, "Signaling unavailable")
}

func TestApp_SignalingSuccessStartsAutoconnect(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	registered := make(chan signaling.Message, 1)
	var rosterHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg signaling.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		registered <- msg
		_ = conn.WriteJSON(signaling.Message{Type: signaling.TypeSuccess})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/online-users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "alice", r.Header.Get("X-User-ID"))
		rosterHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"users":["alice"]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := offlineConfig()
	cfg.SignalingURL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.DirectoryURL = srv.URL
	cfg.Contacts = []peer.Contact{{ID: "bob"}}
	startApp(t, cfg, nil)

	select {
	case msg := <-registered:
		assert.Equal(t, signaling.TypeRegister, msg.Type)
		assert.Equal(t, "alice", msg.FromUserID)
	case <-time.After(5 * time.Second):
		t.Fatal("node did not register")
	}
	require.Eventually(t, func() bool { return rosterHits.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
}
