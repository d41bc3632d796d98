package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var ErrNotConnected = errors.New("signaling socket is not connected")

// Client is a WebSocket connection to the signaling relay.
type Client struct {
	url    string
	userID string
	dialer *websocket.Dialer

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

func NewClient(url, userID string) *Client {
	return &Client{
		url:    url,
		userID: userID,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *Client) UserID() string {
	return c.userID
}

// Connect dials the relay and registers the local user id.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial signaling server %s: %w", c.url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.SendRawMessage(Message{Type: TypeRegister}, false); err != nil {
		_ = c.Close()
		return fmt.Errorf("register with signaling server: %w", err)
	}
	slog.Info("Connected to signaling server", "url", c.url, "user", c.userID)
	return nil
}

// Listen reads messages until the socket fails or ctx is cancelled.
func (c *Client) Listen(ctx context.Context, handler func(Message)) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.dropConn(conn)
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("Signaling server closed the connection")
				return nil
			}
			return fmt.Errorf("read signaling message: %w", err)
		}
		handler(msg)
	}
}

// SendRawMessage stamps the sender id and writes msg. A silent send logs
// failures at debug level since nobody asked for it.
func (c *Client) SendRawMessage(msg Message, isSilent bool) error {
	if msg.FromUserID == "" {
		msg.FromUserID = c.userID
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		c.logSendFailure(msg, ErrNotConnected, isSilent)
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		err = fmt.Errorf("write %s: %w", msg.Type, err)
		c.logSendFailure(msg, err, isSilent)
		return err
	}
	return nil
}

func (c *Client) logSendFailure(msg Message, err error, isSilent bool) {
	if isSilent {
		slog.Debug("Silent signaling send failed", "type", msg.Type, "target", msg.TargetUserID, "error", err)
		return
	}
	slog.Warn("Signaling send failed", "type", msg.Type, "target", msg.TargetUserID, "error", err)
}

func (c *Client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
	}
}
