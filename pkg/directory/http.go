package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const userIDHeader = "X-User-ID"

// userIDInjector is a custom http.RoundTripper that injects the local user id into each request.
type userIDInjector struct {
	userID string
	next   http.RoundTripper
}

func (t *userIDInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set(userIDHeader, t.userID)
	return t.next.RoundTrip(req)
}

// HTTP asks a directory service which users are online.
type HTTP struct {
	HttpClient *http.Client
	baseURL    string
	userID     string
}

var _ Directory = (*HTTP)(nil)

func NewHTTP(baseURL, userID string) *HTTP {
	transport := &userIDInjector{
		userID: userID,
		next:   http.DefaultTransport,
	}
	return &HTTP{
		HttpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		userID:  userID,
	}
}

type onlineUsersResponse struct {
	Users []string `json:"users"`
}

// OnlineUsers returns the roster reported by GET {base}/online-users, minus the local user.
func (c *HTTP) OnlineUsers(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/online-users", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create online users request: %w", err)
	}
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch online users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var body onlineUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode online users: %w", err)
	}

	users := body.Users[:0]
	for _, u := range body.Users {
		if u != c.userID {
			users = append(users, u)
		}
	}
	return uniqueSorted(users), nil
}
