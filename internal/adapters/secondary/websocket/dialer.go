// Package websocket implements the push channel transport on top of
// gorilla/websocket. Frames are JSON envelopes; see domain.Envelope.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
)

// SocketIDHeader carries the server-assigned connection id on the
// handshake response.
const SocketIDHeader = "X-Socket-Id"

// Config holds the transport settings.
type Config struct {
	URL string

	// Time allowed for the opening handshake.
	HandshakeTimeout time.Duration

	// Time allowed to write a frame to the peer.
	WriteWait time.Duration

	// Time allowed to read the next pong from the peer.
	PongWait time.Duration

	// Maximum frame size accepted from the peer.
	MaxMessageSize int64

	// Capacity of the outbound frame queue.
	SendBuffer int
}

// DefaultConfig returns the transport defaults for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 20 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		MaxMessageSize:   1 << 20,
		SendBuffer:       256,
	}
}

// PingPeriod is how often pings are sent. It must be less than PongWait.
func (c Config) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Dialer opens authenticated push channel connections.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

// Ensure Dialer implements the ChannelDialer interface.
var _ ports.ChannelDialer = (*Dialer)(nil)

// NewDialer creates a new dialer
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	defaults := DefaultConfig(cfg.URL)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}

	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With("component", "websocket_dialer"),
	}
}

// Dial performs the handshake. The identity travels both as query
// parameters and as a bearer token. A completed upgrade counts as the
// server's acknowledgement; no application-level ack frame is awaited.
func (d *Dialer) Dial(ctx context.Context, identity domain.Identity, onFrame ports.FrameHandler) (ports.ChannelConn, error) {
	target, err := d.handshakeURL(identity)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+identity.Token)

	ws, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}

	socketID := resp.Header.Get(SocketIDHeader)
	if socketID == "" {
		socketID = uuid.NewString()
	}

	conn := newConn(ws, socketID, d.cfg, onFrame, d.logger)
	conn.start()

	d.logger.Debug("websocket connected", "socket_id", socketID)
	return conn, nil
}

func (d *Dialer) handshakeURL(identity domain.Identity) (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid channel url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	q := u.Query()
	q.Set("token", identity.Token)
	q.Set("userId", identity.UserID)
	if identity.Role != "" {
		q.Set("userRole", identity.Role)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
