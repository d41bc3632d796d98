package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brutella/dnssd"
)

// DefaultBrowseWindow is how long OnlineUsers listens for announcements.
const DefaultBrowseWindow = 2 * time.Second

// MDNS announces the local user on the LAN and browses for others.
type MDNS struct {
	ServiceType string
	Domain      string
	Window      time.Duration
}

var _ Directory = (*MDNS)(nil)

func NewMDNS() *MDNS {
	return &MDNS{
		ServiceType: DefaultServiceType,
		Domain:      DefaultDomain,
		Window:      DefaultBrowseWindow,
	}
}

// Announce publishes the service until ctx is cancelled.
func (m *MDNS) Announce(ctx context.Context, serviceInfo ServiceInfo) error {
	text := map[string]string{
		userTXTKey: serviceInfo.UserID,
	}

	cfg := dnssd.Config{
		Name:   serviceInfo.Name,
		Type:   m.ServiceType,
		Domain: m.Domain,
		// mdns will multicast to ip address, so we can leave it nil
		IPs:  nil,
		Text: text,
		Port: serviceInfo.Port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	if err = rp.Respond(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to respond to mDNS service: %w", err)
	}

	slog.Info("mDNS announcement stopped", "user", serviceInfo.UserID)
	return nil
}

// DiscoveryResult contains either a roster snapshot or an error
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

// roster tracks the services currently announced on the LAN.
type roster struct {
	mu      sync.Mutex
	entries map[string]ServiceInfo
}

func newRoster() *roster {
	return &roster{entries: make(map[string]ServiceInfo)}
}

// add records e and reports whether it carried a user id.
func (r *roster) add(e dnssd.BrowseEntry) bool {
	user := e.Text[userTXTKey]
	if user == "" {
		return false
	}
	info := ServiceInfo{
		Name:   e.Name,
		Type:   e.Type,
		Domain: e.Domain,
		UserID: user,
		Port:   e.Port,
	}
	if len(e.IPs) > 0 {
		info.Addr = e.IPs[0]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ServiceInstanceName()] = info
	return true
}

func (r *roster) remove(e dnssd.BrowseEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, e.ServiceInstanceName())
}

func (r *roster) snapshot() []ServiceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServiceInfo, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	return out
}

func (r *roster) userIDs() []string {
	services := r.snapshot()
	ids := make([]string, 0, len(services))
	for _, s := range services {
		ids = append(ids, s.UserID)
	}
	return uniqueSorted(ids)
}

func (m *MDNS) lookup(ctx context.Context, add, remove func(dnssd.BrowseEntry)) error {
	service := fmt.Sprintf("%s.%s.", m.ServiceType, m.Domain)
	err := dnssd.LookupType(ctx, service, add, remove)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("mDNS lookup failed: %w", err)
	}
	return nil
}

// Discover streams roster snapshots until ctx is cancelled. A slow reader
// may miss intermediate snapshots; each one is complete.
func (m *MDNS) Discover(ctx context.Context) <-chan DiscoveryResult {
	var (
		r     = newRoster()
		outCh = make(chan DiscoveryResult, 10)
	)

	sendSnapshot := func() {
		select {
		case outCh <- DiscoveryResult{Services: r.snapshot()}:
		default:
		}
	}

	go func() {
		defer close(outCh)
		err := m.lookup(ctx, func(e dnssd.BrowseEntry) {
			if r.add(e) {
				sendSnapshot()
			}
		}, func(e dnssd.BrowseEntry) {
			r.remove(e)
			sendSnapshot()
		})
		if err != nil {
			select {
			case outCh <- DiscoveryResult{Error: err}:
			case <-ctx.Done():
			}
		}
	}()

	return outCh
}

// OnlineUsers browses for Window and returns the user ids seen.
func (m *MDNS) OnlineUsers(ctx context.Context) ([]string, error) {
	window := m.Window
	if window <= 0 {
		window = DefaultBrowseWindow
	}
	browseCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	r := newRoster()
	if err := m.lookup(browseCtx, func(e dnssd.BrowseEntry) { r.add(e) }, r.remove); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.userIDs(), nil
}
