package api_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/SelinCifcii/decision-wheel/internal/api"
	"github.com/SelinCifcii/decision-wheel/internal/event"
	"github.com/SelinCifcii/decision-wheel/internal/registry"
)

// testServer wires the full server-side stack: websocket endpoint, registry
// and the redis relay, backed by miniredis.
func makeServer(t *testing.T) *httptest.Server {
	t.Helper()

	rc := makeRedis(t)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	hub := api.NewHub(api.HubConfig{Redis: rc, Prefix: "test"})
	reg := registry.NewService(registry.Config{
		EventBus:  eb,
		Publisher: api.NewPublisher(api.PublisherConfig{Redis: rc, Prefix: "test"}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	gin.SetMode(gin.TestMode)
	e := gin.New()
	api.NewHandler(api.HandlerConfig{Hub: hub, Registry: reg}).Register(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	// Give the hub's pattern subscription a moment to establish.
	time.Sleep(50 * time.Millisecond)

	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()

	env, err := api.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func recv(t *testing.T, conn *websocket.Conn) api.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env api.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func recvPayload(t *testing.T, conn *websocket.Conn, wantType string, payload any) {
	t.Helper()

	env := recv(t, conn)
	require.Equal(t, wantType, env.Type)
	require.NoError(t, json.Unmarshal(env.Payload, payload))
}

func TestHandler_CreateJoinProposeSpin(t *testing.T) {
	srv := makeServer(t)

	host := dial(t, srv)
	guest := dial(t, srv)

	// Host creates the room and gets the first snapshot back.
	send(t, host, api.MsgTypeCreateRoom, api.CreateRoomPayload{RoomCode: "AB12CD", Username: "ayse"})

	var joined api.RoomJoinedPayload
	recvPayload(t, host, api.MsgTypeRoomJoined, &joined)
	assert.Equal(t, []string{"ayse"}, joined.Participants)
	assert.Empty(t, joined.Options)

	// Guest joins; both sides receive the updated snapshot.
	send(t, guest, api.MsgTypeJoinRoom, api.JoinRoomPayload{RoomCode: "ab12cd", Username: "mehmet"})

	for _, conn := range []*websocket.Conn{host, guest} {
		recvPayload(t, conn, api.MsgTypeRoomJoined, &joined)
		assert.Equal(t, []string{"ayse", "mehmet"}, joined.Participants)
	}

	// Both propose; everyone converges on the same ordered list.
	send(t, host, api.MsgTypeAddOption, api.AddOptionPayload{
		RoomCode: "AB12CD", Option: api.OptionPayload{Username: "ayse", Text: "Pizza"},
	})
	send(t, guest, api.MsgTypeAddOption, api.AddOptionPayload{
		RoomCode: "AB12CD", Option: api.OptionPayload{Username: "mehmet", Text: "Tacos"},
	})

	var hostFinal, guestFinal api.OptionAddedPayload
	var added api.OptionAddedPayload
	for i := 0; i < 2; i++ {
		recvPayload(t, host, api.MsgTypeOptionAdded, &added)
		hostFinal = added
		recvPayload(t, guest, api.MsgTypeOptionAdded, &added)
		guestFinal = added
	}
	assert.Equal(t, hostFinal.Options, guestFinal.Options)
	assert.Len(t, hostFinal.Options, 2)

	// Host spins; the outcome reaches every member exactly once.
	winning := hostFinal.Options[0]
	send(t, host, api.MsgTypeSpinResult, api.SpinResultPayload{RoomCode: "AB12CD", Option: winning})

	var result api.SelectionResultPayload
	recvPayload(t, host, api.MsgTypeSelectionResult, &result)
	assert.Equal(t, winning, result.Option)
	recvPayload(t, guest, api.MsgTypeSelectionResult, &result)
	assert.Equal(t, winning, result.Option)
}

func TestHandler_JoinUnknownRoom(t *testing.T) {
	srv := makeServer(t)
	conn := dial(t, srv)

	send(t, conn, api.MsgTypeJoinRoom, api.JoinRoomPayload{RoomCode: "XYZ999", Username: "ayse"})

	var errPayload api.ErrorPayload
	recvPayload(t, conn, api.MsgTypeError, &errPayload)
	assert.Equal(t, uint32(codes.NotFound), errPayload.Code)
}

func TestHandler_UnknownMessageType(t *testing.T) {
	srv := makeServer(t)
	conn := dial(t, srv)

	send(t, conn, "teleport", struct{}{})

	var errPayload api.ErrorPayload
	recvPayload(t, conn, api.MsgTypeError, &errPayload)
	assert.Equal(t, uint32(codes.InvalidArgument), errPayload.Code)
}

func TestHandler_DisconnectRemovesParticipant(t *testing.T) {
	srv := makeServer(t)

	host := dial(t, srv)
	guest := dial(t, srv)

	send(t, host, api.MsgTypeCreateRoom, api.CreateRoomPayload{RoomCode: "AB12CD", Username: "ayse"})
	var joined api.RoomJoinedPayload
	recvPayload(t, host, api.MsgTypeRoomJoined, &joined)

	send(t, guest, api.MsgTypeJoinRoom, api.JoinRoomPayload{RoomCode: "AB12CD", Username: "mehmet"})
	recvPayload(t, host, api.MsgTypeRoomJoined, &joined)
	recvPayload(t, guest, api.MsgTypeRoomJoined, &joined)

	guest.Close()

	recvPayload(t, host, api.MsgTypeRoomJoined, &joined)
	assert.Equal(t, []string{"ayse"}, joined.Participants)
}
