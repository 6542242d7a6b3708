package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SelinCifcii/decision-wheel/internal/api"
	"github.com/SelinCifcii/decision-wheel/internal/session"
)

func TestWebsocketTransport(t *testing.T) {
	t.Run("send and receive round-trip", func(t *testing.T) {
		tr := dialEchoServer(t)

		env, err := api.NewEnvelope(api.MsgTypeJoinRoom, api.JoinRoomPayload{RoomCode: "AB12CD", Username: "ayse"})
		require.NoError(t, err)
		require.NoError(t, tr.Send(context.Background(), env))

		got, err := tr.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, api.MsgTypeJoinRoom, got.Type)
	})

	t.Run("send fails on an already-expired deadline", func(t *testing.T) {
		tr := dialEchoServer(t)

		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()

		env, err := api.NewEnvelope(api.MsgTypeJoinRoom, api.JoinRoomPayload{RoomCode: "AB12CD", Username: "ayse"})
		require.NoError(t, err)
		assert.Error(t, tr.Send(ctx, env))
	})

	t.Run("receive honors a cancelled context", func(t *testing.T) {
		tr := dialEchoServer(t)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := tr.Receive(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("not connected", func(t *testing.T) {
		tr := session.NewWebsocketTransport("ws://localhost:0/ws")

		env, err := api.NewEnvelope(api.MsgTypeJoinRoom, api.JoinRoomPayload{})
		require.NoError(t, err)
		assert.Error(t, tr.Send(context.Background(), env))
	})
}

// dialEchoServer starts a websocket server echoing every frame back and
// returns a connected transport.
func dialEchoServer(t *testing.T) *session.WebsocketTransport {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	tr := session.NewWebsocketTransport("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { tr.Close() })

	return tr
}
