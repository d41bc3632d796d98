package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/andres-erbsen/clock"
	"golang.org/x/sync/errgroup"

	appevents "github.com/rescp17/peerlink/internal/app_events"
	"github.com/rescp17/peerlink/internal/config"
	"github.com/rescp17/peerlink/pkg/cache"
	"github.com/rescp17/peerlink/pkg/content"
	"github.com/rescp17/peerlink/pkg/directory"
	"github.com/rescp17/peerlink/pkg/peer"
	"github.com/rescp17/peerlink/pkg/signaling"
	"github.com/rescp17/peerlink/pkg/transfer"
)

// App wires the transport collaborators to the peer coordinator and runs
// them as one unit.
type App struct {
	cfg         *config.Config
	clock       clock.Clock
	store       cache.Store
	signaler    *signaling.Client
	mdns        *directory.MDNS
	coordinator *peer.Coordinator
	retry       *transfer.RetryPolicy

	uiMessages chan appevents.AppUIMessage // App -> chat layer
	appEvents  chan appevents.AppEvent     // chat layer -> App
	pending    sync.WaitGroup
}

// NewApp builds a node from cfg. Content is cached under dataDir unless
// the config selects the memory cache.
func NewApp(cfg *config.Config, dataDir string) (*App, error) {
	return newApp(cfg, dataDir, newRTCFactory(cfg), clock.New())
}

func newApp(cfg *config.Config, dataDir string, rtc peer.RTC, clk clock.Clock) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	store, err := openStore(cfg, dataDir)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		clock:      clk,
		store:      store,
		signaler:   signaling.NewClient(cfg.SignalingURL, cfg.UserID),
		mdns:       directory.NewMDNS(),
		retry:      transfer.DefaultRetryPolicy(),
		uiMessages: make(chan appevents.AppUIMessage, 64),
		appEvents:  make(chan appevents.AppEvent),
	}

	var dir peer.Directory = a.mdns
	if cfg.DirectoryURL != "" {
		dir = directory.NewHTTP(cfg.DirectoryURL, cfg.UserID)
	}

	registry := transfer.NewRegistry()
	coordinator, err := peer.New(peer.Options{
		LocalID:   cfg.UserID,
		RTC:       rtc,
		Signaler:  a.signaler,
		Directory: dir,
		Router:    transfer.NewRouter(registry, store, cfg.Transfer, a.uiMessages),
		Sender:    transfer.NewSender(registry, cfg.Transfer, clk, cfg.UserID),
		Contacts:  cfg.Contacts,
		Events:    a.uiMessages,
		Clock:     clk,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.coordinator = coordinator
	return a, nil
}

func openStore(cfg *config.Config, dataDir string) (cache.Store, error) {
	if cfg.Cache == config.CacheMemory {
		return cache.NewMemoryStore(), nil
	}
	store, path, err := cache.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open content cache: %w", err)
	}
	slog.Info("Content cache opened", "path", path)
	return store, nil
}

// UIMessages returns the channel the chat layer listens on for updates.
func (a *App) UIMessages() <-chan appevents.AppUIMessage {
	return a.uiMessages
}

// AppEvents returns a write-only channel for the chat layer to send commands to the node.
func (a *App) AppEvents() chan<- appevents.AppEvent {
	return a.appEvents
}

func (a *App) Coordinator() *peer.Coordinator {
	return a.coordinator
}

func (a *App) Store() cache.Store {
	return a.store
}

// Run starts the node and blocks until ctx is cancelled. Every peer
// connection is closed and the content cache released before it returns.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.coordinator.Run(ctx)
	})

	if a.cfg.SignalingURL != "" {
		g.Go(func() error {
			return a.runSignaling(ctx)
		})
	}

	if a.cfg.Announce && a.cfg.DirectoryURL == "" {
		g.Go(func() error {
			return a.runAnnounce(ctx)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				a.pending.Wait()
				return nil
			case event := <-a.appEvents:
				a.handleEvent(ctx, event)
			}
		}
	})

	err := g.Wait()
	if cerr := a.signaler.Close(); cerr != nil {
		slog.Debug("Closing signaling client", "error", cerr)
	}
	if cerr := a.store.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close content cache: %w", cerr))
	}
	return err
}

// runSignaling keeps the relay connection alive. Losing it only disables
// signaling negotiation, so failures are reported and retried rather than
// stopping the node.
func (a *App) runSignaling(ctx context.Context) error {
	attempts := 0
	for {
		err := a.signaler.Connect(ctx)
		if err == nil {
			attempts = 0
			slog.Info("Signaling connected", "user", a.signaler.UserID(), "url", a.cfg.SignalingURL)
			err = a.signaler.Listen(ctx, func(msg signaling.Message) {
				a.coordinator.HandleSignalingMessage(ctx, msg)
			})
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("connection closed by server")
		}

		if !a.retry.ShouldRetry(attempts) {
			a.sendAndLogError("Signaling unavailable", err)
			return nil
		}
		delay := a.retry.GetRetryDelay(attempts)
		attempts++
		slog.Warn("Signaling connection lost", "error", err, "attempt", attempts, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-a.clock.After(delay):
		}
	}
}

func (a *App) runAnnounce(ctx context.Context) error {
	err := a.mdns.Announce(ctx, directory.ServiceInfo{
		Name:   a.cfg.UserID,
		UserID: a.cfg.UserID,
		Port:   9,
	})
	if err != nil {
		// peers can still reach us through signaling or manual codes
		a.sendAndLogError("mDNS announcement failed", err)
	}
	return nil
}

func (a *App) handleEvent(ctx context.Context, event appevents.AppEvent) {
	switch e := event.(type) {
	case appevents.ConnectPeerEvent:
		a.pending.Add(1)
		go func() {
			defer a.pending.Done()
			_, err := a.coordinator.CreateOffer(ctx, e.PeerID, peer.OfferOptions{Silent: e.Silent})
			if err != nil {
				slog.Info("Connect request failed", "peer", e.PeerID, "error", err)
			}
		}()
	case appevents.SendTextEvent:
		if _, err := a.coordinator.SendText(e.PeerID, e.Text); err != nil {
			a.notifyFailure(e.PeerID, "Message not sent", err)
		}
	case appevents.SendFileEvent:
		a.sendFile(ctx, e)
	case appevents.ClosePeerEvent:
		if err := a.coordinator.Close(e.PeerID, e.Notify); err != nil {
			slog.Debug("Close request for unknown peer", "peer", e.PeerID, "error", err)
		}
	default:
		slog.Warn("Unhandled app event", "event", fmt.Sprintf("%T", event))
	}
}

func (a *App) sendFile(ctx context.Context, e appevents.SendFileEvent) {
	blob, err := content.Load(e.Path)
	if err != nil {
		a.notifyFailure(e.PeerID, "Cannot read file", err)
		return
	}
	id, err := a.coordinator.SendFile(ctx, e.PeerID, blob.Name, blob.MimeType, blob.Data)
	if err != nil {
		a.notifyFailure(e.PeerID, "File not sent", err)
		return
	}
	slog.Info("File transfer started", "peer", e.PeerID, "transfer", id, "name", blob.Name, "size", blob.Size)
}

func (a *App) notifyFailure(peerID, what string, err error) {
	slog.Warn(what, "peer", peerID, "error", err, "category", transfer.Categorize(err).String())
	a.emit(appevents.NotificationMsg{
		Level:   appevents.LevelError,
		PeerID:  peerID,
		Message: fmt.Sprintf("%s: %v", what, err),
		Time:    a.clock.Now(),
	})
}

// sendAndLogError is a helper function to both log an error and send it to the chat layer.
func (a *App) sendAndLogError(baseMessage string, err error) {
	slog.Error(baseMessage, "error", err)
	a.emit(appevents.AppErrorMsg{Err: fmt.Errorf("%s: %w", baseMessage, err)})
}

// emit never blocks the node on a slow consumer.
func (a *App) emit(msg appevents.AppUIMessage) {
	select {
	case a.uiMessages <- msg:
	default:
		slog.Debug("Dropping UI message, consumer is behind", "type", fmt.Sprintf("%T", msg))
	}
}
