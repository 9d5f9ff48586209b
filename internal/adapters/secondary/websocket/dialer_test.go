package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	wsadapter "github.com/lorrc/dashboard-sync/internal/adapters/secondary/websocket"
	"github.com/lorrc/dashboard-sync/internal/auth"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	apperrors "github.com/lorrc/dashboard-sync/internal/core/errors"
	"github.com/lorrc/dashboard-sync/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "channel-test-secret"

type handshake struct {
	userID string
	role   string
	bearer string
}

// channelServer accepts authenticated upgrades and hands each server side
// connection to the test.
type channelServer struct {
	*httptest.Server
	conns      chan *websocket.Conn
	handshakes chan handshake
}

func newChannelServer(t *testing.T) *channelServer {
	t.Helper()

	tm := auth.NewTokenManager(testSecret, time.Hour)
	upgrader := websocket.Upgrader{}
	s := &channelServer{
		conns:      make(chan *websocket.Conn, 4),
		handshakes: make(chan handshake, 4),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := tm.ValidateToken(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.handshakes <- handshake{
			userID: r.URL.Query().Get("userId"),
			role:   r.URL.Query().Get("userRole"),
			bearer: r.Header.Get("Authorization"),
		}
		assert.Equal(t, claims.UserID, r.URL.Query().Get("userId"))

		conn, err := upgrader.Upgrade(w, r, http.Header{wsadapter.SocketIDHeader: {"srv-1"}})
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *channelServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func validIdentity(t *testing.T) domain.Identity {
	t.Helper()
	token, err := auth.NewTokenManager(testSecret, time.Hour).GenerateToken("42", "EMPLOYEE", "")
	require.NoError(t, err)
	return domain.Identity{UserID: "42", Role: "EMPLOYEE", Token: token}
}

func TestDialer_Dial(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges frames both ways", func(t *testing.T) {
		srv := newChannelServer(t)
		dialer := wsadapter.NewDialer(wsadapter.DefaultConfig(srv.url()), logging.Discard())
		frames := make(chan []byte, 4)
		identity := validIdentity(t)

		conn, err := dialer.Dial(ctx, identity, func(frame []byte) { frames <- frame })
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, "srv-1", conn.SocketID())

		hs := <-srv.handshakes
		assert.Equal(t, "42", hs.userID)
		assert.Equal(t, "EMPLOYEE", hs.role)
		assert.Equal(t, "Bearer "+identity.Token, hs.bearer)

		server := <-srv.conns
		defer server.Close()

		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"task_update","payload":{}}`)))
		select {
		case frame := <-frames:
			assert.JSONEq(t, `{"type":"task_update","payload":{}}`, string(frame))
		case <-time.After(time.Second):
			t.Fatal("frame not delivered")
		}

		require.NoError(t, conn.Send([]byte(`{"type":"join_room","payload":{"room":"user_42"}}`)))
		require.NoError(t, server.SetReadDeadline(time.Now().Add(time.Second)))
		_, msg, err := server.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"join_room","payload":{"room":"user_42"}}`, string(msg))
	})

	t.Run("rejected handshake", func(t *testing.T) {
		srv := newChannelServer(t)
		dialer := wsadapter.NewDialer(wsadapter.DefaultConfig(srv.url()), logging.Discard())

		conn, err := dialer.Dial(ctx, domain.Identity{UserID: "42", Token: "forged"}, func([]byte) {})

		assert.Nil(t, conn)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
	})

	t.Run("unreachable server", func(t *testing.T) {
		dialer := wsadapter.NewDialer(wsadapter.DefaultConfig("ws://127.0.0.1:1/ws"), logging.Discard())

		_, err := dialer.Dial(ctx, validIdentity(t), func([]byte) {})

		assert.Error(t, err)
	})
}

func TestConn_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("server close ends the connection", func(t *testing.T) {
		srv := newChannelServer(t)
		dialer := wsadapter.NewDialer(wsadapter.DefaultConfig(srv.url()), logging.Discard())

		conn, err := dialer.Dial(ctx, validIdentity(t), func([]byte) {})
		require.NoError(t, err)

		server := <-srv.conns
		require.NoError(t, server.Close())

		select {
		case <-conn.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("connection not closed")
		}
		assert.Error(t, conn.Err())
		assert.ErrorIs(t, conn.Send([]byte(`{}`)), apperrors.ErrChannelClosed)
	})

	t.Run("local close is clean", func(t *testing.T) {
		srv := newChannelServer(t)
		dialer := wsadapter.NewDialer(wsadapter.DefaultConfig(srv.url()), logging.Discard())

		conn, err := dialer.Dial(ctx, validIdentity(t), func([]byte) {})
		require.NoError(t, err)
		server := <-srv.conns
		defer server.Close()

		require.NoError(t, conn.Close())
		require.NoError(t, conn.Close())

		<-conn.Done()
		assert.NoError(t, conn.Err())

		require.NoError(t, server.SetReadDeadline(time.Now().Add(time.Second)))
		_, _, err = server.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	})
}
