package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/SelinCifcii/decision-wheel/internal/errors"
	"github.com/SelinCifcii/decision-wheel/internal/registry"
	"github.com/SelinCifcii/decision-wheel/internal/roomcode"
)

type HandlerConfig struct {
	Hub      *Hub
	Registry *registry.Service
}

// Handler is the websocket endpoint. Each connection gets a read loop here
// and a write pump in the hub; intents are applied to the registry and the
// resulting broadcasts come back through the hub's redis subscription.
type Handler struct {
	hub      *Hub
	registry *registry.Service
	upgrader websocket.Upgrader
}

func NewHandler(c HandlerConfig) *Handler {
	return &Handler{
		hub:      c.Hub,
		registry: c.Registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxMessageSize,
			WriteBufferSize: maxMessageSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the endpoint on the gin engine.
func (h *Handler) Register(e *gin.Engine) {
	e.GET("/ws", h.serve)
}

func (h *Handler) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("api: upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.NewString(), conn)
	h.hub.Register(client)
	go client.writePump()

	slog.Info("api: connection opened", "conn", client.ID())
	h.readLoop(c.Request.Context(), client)

	h.hub.Unregister(client)
	if err := h.registry.Leave(context.WithoutCancel(c.Request.Context()), registry.LeaveRequest{ConnID: client.ID()}); err != nil {
		slog.Error("api: leave failed", "conn", client.ID(), "error", err)
	}
	slog.Info("api: connection closed", "conn", client.ID())
}

func (h *Handler) readLoop(ctx context.Context, client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Error("api: read failed", "conn", client.ID(), "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.reject(client, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("malformed message"), errors.WithCause(err)))
			continue
		}

		if err := h.dispatch(ctx, client, &env); err != nil {
			h.reject(client, err)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, env *Envelope) error {
	switch env.Type {
	case MsgTypeCreateRoom:
		var p CreateRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
		}

		code := roomcode.Normalize(p.RoomCode)
		// Subscribe before the registry publishes the first snapshot so the
		// creator cannot miss its own ack.
		h.hub.JoinRoom(client, code)
		if err := h.registry.CreateRoom(ctx, registry.CreateRoomRequest{
			Code:     code,
			ConnID:   client.ID(),
			Username: p.Username,
		}); err != nil {
			h.hub.LeaveRoom(client, code)
			return err
		}
		return nil

	case MsgTypeJoinRoom:
		var p JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
		}

		code := roomcode.Normalize(p.RoomCode)
		h.hub.JoinRoom(client, code)
		if err := h.registry.JoinRoom(ctx, registry.JoinRoomRequest{
			Code:     code,
			ConnID:   client.ID(),
			Username: p.Username,
		}); err != nil {
			h.hub.LeaveRoom(client, code)
			return err
		}
		return nil

	case MsgTypeAddOption:
		var p AddOptionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
		}

		return h.registry.AddOption(ctx, registry.AddOptionRequest{
			Code:   p.RoomCode,
			ConnID: client.ID(),
			Option: domainOption(p.Option),
		})

	case MsgTypeSpinResult:
		var p SpinResultPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
		}

		return h.registry.PublishSelection(ctx, registry.PublishSelectionRequest{
			Code:   p.RoomCode,
			ConnID: client.ID(),
			Option: domainOption(p.Option),
		})

	default:
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown message type: %q", env.Type))
	}
}

// reject reports a failed intent back on the connection's error channel.
func (h *Handler) reject(client *Client, err error) {
	e := errors.Convert(err)

	env, mErr := NewEnvelope(MsgTypeError, ErrorPayload{
		Code:    uint32(e.Code),
		Message: e.Message,
	})
	if mErr != nil {
		slog.Error("api: marshal error reply", "conn", client.ID(), "error", mErr)
		return
	}

	b, mErr := json.Marshal(env)
	if mErr != nil {
		slog.Error("api: marshal error reply", "conn", client.ID(), "error", mErr)
		return
	}

	if !client.enqueue(b) {
		slog.Warn("api: dropping error reply, send buffer full", "conn", client.ID())
	}
}
