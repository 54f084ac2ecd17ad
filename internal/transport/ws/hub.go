package ws

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/envbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/envbridge/internal/infrastructure/monitoring"
)

const (
	// DefaultPath is where the hub accepts connections
	DefaultPath = "/bridge"
	// Broadcast as a target reaches every peer except the sender
	Broadcast   = "*"

	sendBuffer = 256
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// DefaultMaxFrameSize leaves room for a maximum payload plus envelope and frame overhead
const DefaultMaxFrameSize = 2 * 1024 * 1024

// ErrHubClosed is returned by Attach after Close
var ErrHubClosed = errors.New("hub closed")

// peer is anything the hub can deliver to: a remote connection or a local endpoint
type peer interface {
	origin() string
	deliver(from string, data []byte) bool
	shutdown()
}

// Hub relays frames between contexts by origin
type Hub struct {
	allow    func(origin string) bool
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	peers  map[string]map[peer]struct{}
	remote int
	closed bool

	limit        rate.Limit
	burst        int
	writeTimeout time.Duration
	maxFrameSize int64

	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithLogger sets the hub logger
func WithLogger(l *logging.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics enables connection and frame counters
func WithMetrics(m *monitoring.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithRateLimit limits inbound frames per connection
func WithRateLimit(cfg config.RateLimitConfig) HubOption {
	return func(h *Hub) {
		if !cfg.Enabled || cfg.MessagesPerSecond <= 0 {
			h.limit = 0
			return
		}
		h.limit = rate.Limit(cfg.MessagesPerSecond)
		h.burst = cfg.Burst
		if h.burst <= 0 {
			h.burst = cfg.MessagesPerSecond
		}
	}
}

// WithWriteTimeout bounds each write to a connection
func WithWriteTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithMaxFrameSize bounds inbound frames; larger frames close the connection
func WithMaxFrameSize(n int64) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxFrameSize = n
		}
	}
}

// NewHub creates a hub accepting connections whose Origin header passes allow
func NewHub(allow func(origin string) bool, opts ...HubOption) *Hub {
	h := &Hub{
		allow:        allow,
		peers:        make(map[string]map[peer]struct{}),
		writeTimeout: 10 * time.Second,
		maxFrameSize: DefaultMaxFrameSize,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("hub")
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	o := r.Header.Get("Origin")
	if o != "" && h.allow != nil && h.allow(o) {
		return true
	}
	h.logger.Warn("Rejected connection from untrusted origin",
		zap.String("origin", o),
		zap.String("remote_addr", r.RemoteAddr),
	)
	return false
}

// Routes registers the connection endpoint on r
func (h *Hub) Routes(r gin.IRoutes, path string) {
	if path == "" {
		path = DefaultPath
	}
	r.GET(path, h.HandleConnection)
}

// HandleConnection upgrades the request and relays frames until the peer leaves
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	rc := &remoteConn{
		hub:  h,
		conn: conn,
		org:  c.GetHeader("Origin"),
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if h.limit > 0 {
		rc.limiter = rate.NewLimiter(h.limit, h.burst)
	}

	if !h.add(rc) {
		_ = conn.Close()
		return
	}
	h.metrics.IncHubConnections()
	h.logger.Info("Peer connected", zap.String("origin", rc.org), zap.String("conn_id", rc.id))

	defer func() {
		h.remove(rc)
		rc.shutdown()
		h.metrics.DecHubConnections()
		h.logger.Info("Peer disconnected", zap.String("origin", rc.org), zap.String("conn_id", rc.id))
	}()

	go rc.writeLoop()
	rc.readLoop()
}

// Attach registers an in-process endpoint for origin
func (h *Hub) Attach(origin string) (*Endpoint, error) {
	e := newEndpoint(h, origin)
	if !h.add(e) {
		return nil, ErrHubClosed
	}
	return e, nil
}

// Connections returns the number of remote connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.remote
}

// Origins lists origins with at least one peer, sorted
func (h *Hub) Origins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.peers))
	for o := range h.peers {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// Close disconnects every peer and refuses new ones
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var all []peer
	for _, group := range h.peers {
		for p := range group {
			all = append(all, p)
		}
	}
	h.peers = make(map[string]map[peer]struct{})
	h.remote = 0
	h.mu.Unlock()

	for _, p := range all {
		p.shutdown()
	}
	return nil
}

func (h *Hub) add(p peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	group, ok := h.peers[p.origin()]
	if !ok {
		group = make(map[peer]struct{})
		h.peers[p.origin()] = group
	}
	group[p] = struct{}{}
	if _, isRemote := p.(*remoteConn); isRemote {
		h.remote++
	}
	return true
}

func (h *Hub) remove(p peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.peers[p.origin()]
	if !ok {
		return
	}
	if _, present := group[p]; !present {
		return
	}
	delete(group, p)
	if len(group) == 0 {
		delete(h.peers, p.origin())
	}
	if _, isRemote := p.(*remoteConn); isRemote {
		h.remote--
	}
}

// route delivers data from sender to every peer registered for target.
// "*" reaches every peer except the sender.
func (h *Hub) route(from peer, target string, data []byte) {
	h.mu.RLock()
	var receivers []peer
	if target == Broadcast {
		for _, group := range h.peers {
			for p := range group {
				if p != from {
					receivers = append(receivers, p)
				}
			}
		}
	} else {
		for p := range h.peers[target] {
			receivers = append(receivers, p)
		}
	}
	h.mu.RUnlock()

	if len(receivers) == 0 {
		h.metrics.RecordHubFrame("dropped")
		h.logger.Debug("No peer for target",
			zap.String("from", from.origin()),
			zap.String("target", target),
		)
		return
	}
	for _, p := range receivers {
		if p.deliver(from.origin(), data) {
			h.metrics.RecordHubFrame("out")
		} else {
			h.metrics.RecordHubFrame("dropped")
		}
	}
}

// remoteConn is one WebSocket peer
type remoteConn struct {
	hub     *Hub
	conn    *websocket.Conn
	org     string
	id      string
	limiter *rate.Limiter

	send     chan []byte
	done     chan struct{}
	shutOnce sync.Once
}

func (r *remoteConn) origin() string { return r.org }

// deliver queues a frame; a full queue drops it
func (r *remoteConn) deliver(from string, data []byte) bool {
	frame, err := encodeFrame(Frame{Origin: from, Data: data})
	if err != nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.send <- frame:
		return true
	default:
		r.hub.logger.Warn("Peer send queue full, frame dropped",
			zap.String("origin", r.org),
			zap.String("conn_id", r.id),
		)
		return false
	}
}

// shutdown signals the write loop, which sends the close frame and closes the socket
func (r *remoteConn) shutdown() {
	r.shutOnce.Do(func() { close(r.done) })
}

func (r *remoteConn) readLoop() {
	r.conn.SetReadLimit(r.hub.maxFrameSize)
	_ = r.conn.SetReadDeadline(time.Now().Add(pongWait))
	r.conn.SetPongHandler(func(string) error {
		return r.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.hub.logger.Warn("WebSocket read error", zap.String("conn_id", r.id), zap.Error(err))
			}
			return
		}
		r.hub.metrics.RecordHubFrame("in")

		if r.limiter != nil && !r.limiter.Allow() {
			r.hub.metrics.RecordHubFrame("dropped")
			r.hub.logger.Debug("Rate limit exceeded", zap.String("origin", r.org), zap.String("conn_id", r.id))
			continue
		}

		target, data, ok := peekOutbound(msg)
		if !ok {
			r.hub.metrics.RecordHubFrame("dropped")
			r.hub.logger.Debug("Malformed frame", zap.String("origin", r.org), zap.String("conn_id", r.id))
			continue
		}
		r.hub.route(r, target, data)
	}
}

func (r *remoteConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-r.send:
			_ = r.conn.SetWriteDeadline(time.Now().Add(r.hub.writeTimeout))
			if err := r.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				r.shutdown()
				_ = r.conn.Close()
				return
			}
		case <-ticker.C:
			_ = r.conn.SetWriteDeadline(time.Now().Add(r.hub.writeTimeout))
			if err := r.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.shutdown()
				_ = r.conn.Close()
				return
			}
		case <-r.done:
			_ = r.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = r.conn.Close()
			return
		}
	}
}
