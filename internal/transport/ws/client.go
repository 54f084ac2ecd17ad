package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/envbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envbridge/internal/transport"
)

// Client is a remote peer of a hub. It implements transport.Transport.
type Client struct {
	conn    *websocket.Conn
	org     string
	mailbox *transport.Mailbox

	writeMu      sync.Mutex
	writeTimeout time.Duration
	logger       *logging.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Transport = (*Client)(nil)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the client logger
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClientWriteTimeout bounds each write
func WithClientWriteTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// Dial connects to the hub at url announcing origin in the handshake
func Dial(ctx context.Context, url, origin string, opts ...ClientOption) (*Client, error) {
	if origin == "" {
		return nil, fmt.Errorf("ws: origin is required")
	}
	header := http.Header{}
	header.Set("Origin", origin)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws: dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}

	c := &Client{
		conn:         conn,
		org:          origin,
		mailbox:      transport.NewMailbox(),
		writeTimeout: 10 * time.Second,
		logger:       logging.NewNop(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("ws-client").With(zap.String("origin", origin))

	go c.readLoop()
	return c, nil
}

// Origin returns the origin announced to the hub
func (c *Client) Origin() string { return c.org }

// Done is closed once the connection is gone
func (c *Client) Done() <-chan struct{} { return c.done }

// Post sends data to target through the hub
func (c *Client) Post(ctx context.Context, target string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	if !json.Valid(data) {
		return ErrNotJSON
	}

	frame, err := encodeFrame(Frame{Target: target, Data: data})
	if err != nil {
		return fmt.Errorf("ws: encode frame: %w", err)
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("ws: write: %w", err)
	}
	return nil
}

// Subscribe installs the client's listener
func (c *Client) Subscribe(l transport.Listener) func() {
	return c.mailbox.Subscribe(l)
}

// Close sends a close frame and releases the connection
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
		c.mailbox.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		f, err := decodeFrame(msg)
		if err != nil || f.Origin == "" {
			c.logger.Debug("Malformed frame from hub", zap.Error(err))
			continue
		}
		c.mailbox.Push(transport.Inbound{Origin: f.Origin, Data: f.Data})
	}
}
