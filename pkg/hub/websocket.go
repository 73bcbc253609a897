package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("outbound queue full")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	closeWait      = time.Second
	maxMessageSize = 8 << 20
)

type HandlerOptions struct {
	// AllowedOrigins lists browser origins allowed to connect. "*" allows any origin.
	AllowedOrigins []string
	// SendBuffer is the number of snapshots queued per session before it is considered too slow and dropped.
	SendBuffer int
}

// Handler upgrades requests to websocket sessions of a Service.
type Handler struct {
	ctx        context.Context
	service    *Service
	upgrader   websocket.Upgrader
	sendBuffer int

	mu       sync.Mutex
	draining bool
	sessions sync.WaitGroup
}

// NewHandler returns a handler whose sessions are closed when ctx is done.
func NewHandler(ctx context.Context, service *Service, opts HandlerOptions) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	origins := opts.AllowedOrigins
	return &Handler{
		ctx:     ctx,
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(origins, r.Header.Get("Origin"))
			},
		},
		sendBuffer: opts.SendBuffer,
	}
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// Wait stops accepting sessions and blocks until every running session has left the service. Cancel the handler's
// context first or Wait lasts as long as the slowest client.
func (h *Handler) Wait() {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()
	h.sessions.Wait()
}

func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.sessions.Add(1)
	return true
}

func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if !h.track() {
		http.Error(writer, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.sessions.Done()

	conn, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	c := newWSConn(conn, h.sendBuffer)
	defer func() {
		_ = c.Close()
		<-c.closed
	}()

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	sess, err := h.service.Join(ctx, c)
	if err != nil {
		slog.Error("failed to join", "err", err)
		h.service.Leave(sess)
		return
	}
	slog.Info("session joined", "session", sess.ID, "remote", request.RemoteAddr, "sessions", h.service.SessionCount())

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.Close()
		c.writeLoop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	for {
		frame, err := c.readFrame()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("session read failed", "session", sess.ID, "err", err)
			}
			break
		}
		if !sess.Alive() {
			break
		}
		if frame == nil {
			continue
		}
		_ = h.service.Dispatch(ctx, sess, frame)
	}

	h.service.Leave(sess)
	_ = c.Close()
	wg.Wait()
	slog.Info("session left", "session", sess.ID, "sessions", h.service.SessionCount())
}

// wsConn adapts a websocket connection to session.Conn. Sends are queued and written by writeLoop so a slow peer
// never blocks the service.
type wsConn struct {
	conn      *websocket.Conn
	out       chan []byte
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, buffer int) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{
		conn:   conn,
		out:    make(chan []byte, buffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) Send(_ context.Context, frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close marks the connection done and returns at once. The close frame is written by a separate goroutine, bounded by
// closeWait, because the writer may be stuck on a peer that stopped reading.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() {
			defer close(c.closed)
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
			if err := c.conn.Close(); err != nil {
				slog.Debug("failed to close connection", "err", err)
			}
		}()
	})
	return nil
}

// readFrame returns the next text or binary frame. Other message types yield a nil frame.
func (c *wsConn) readFrame() ([]byte, error) {
	mt, p, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	switch mt {
	case websocket.TextMessage, websocket.BinaryMessage:
		return p, nil
	default:
	}
	return nil, nil
}

func (c *wsConn) writeLoop() {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("failed to write frame", "err", err)
				return
			}
		case <-t.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug("failed to ping", "err", err)
				return
			}
		case <-c.done:
			return
		}
	}
}
