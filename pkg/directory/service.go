package directory

import (
	"context"
	"net"
	"sort"
)

const (
	DefaultServiceType = "_peerlink._tcp"
	DefaultDomain      = "local"

	userTXTKey = "user"
)

// Directory reports which users are currently reachable.
type Directory interface {
	OnlineUsers(ctx context.Context) ([]string, error)
}

type ServiceInfo struct {
	Name   string // instance name
	Type   string // service name, e.g., "_peerlink._tcp"
	Domain string // domain, e.g., "local"
	UserID string
	Addr   net.IP
	Port   int
}

// Static is a fixed roster, used when no directory service is configured.
type Static []string

func (s Static) OnlineUsers(context.Context) ([]string, error) {
	return uniqueSorted(s), nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
