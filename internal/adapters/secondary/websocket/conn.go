package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
)

// Conn is one live push channel. A read pump delivers frames to the
// manager and a write pump owns every write, including keepalive pings.
type Conn struct {
	ws       *websocket.Conn
	socketID string
	cfg      Config
	onFrame  ports.FrameHandler

	// Buffered channel of outbound frames.
	send chan []byte

	// done is closed exactly once, when the connection ends for any reason
	done      chan struct{}
	closeOnce sync.Once

	// mu protects err
	mu  sync.Mutex
	err error

	logger *slog.Logger
}

// Ensure Conn implements the ChannelConn interface.
var _ ports.ChannelConn = (*Conn)(nil)

func newConn(ws *websocket.Conn, socketID string, cfg Config, onFrame ports.FrameHandler, logger *slog.Logger) *Conn {
	return &Conn{
		ws:       ws,
		socketID: socketID,
		cfg:      cfg,
		onFrame:  onFrame,
		send:     make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
		logger:   logger.With("socket_id", socketID),
	}
}

func (c *Conn) start() {
	go c.writePump()
	go c.readPump()
}

// SocketID returns the id the server assigned to this connection.
func (c *Conn) SocketID() string { return c.socketID }

// Send queues frame for writing. It never blocks.
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.done:
		return apperrors.ErrChannelClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return apperrors.ErrChannelClosed
	default:
		return apperrors.ErrSendBufferFull
	}
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. It is nil after a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection with a normal close frame.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

// readPump pumps frames from the websocket connection to the manager.
// This method runs in its own goroutine.
func (c *Conn) readPump() {
	defer func() {
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		c.shutdown(err)
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			c.shutdown(err)
			return
		}

		select {
		case <-c.done:
			return
		default:
		}
		c.onFrame(message)
	}
}

// writePump pumps queued frames to the websocket connection.
// This method runs in its own goroutine.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.shutdown(err)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("failed to write message", "error", err)
				c.shutdown(err)
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.shutdown(err)
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				c.shutdown(err)
				return
			}

		case <-c.done:
			// Closed locally or by the read pump; say goodbye if we still can.
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Debug("failed to send close message", "error", err)
			}
			return
		}
	}
}
