package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/courier/internal/auth"
	"github.com/vovakirdan/courier/internal/config"
	"github.com/vovakirdan/courier/internal/core"
	"github.com/vovakirdan/courier/internal/proto"
	"github.com/vovakirdan/courier/internal/service/messaging"
	"github.com/vovakirdan/courier/internal/service/presence"
	"github.com/vovakirdan/courier/internal/utils"
)

var errKicked = errors.New("connection kicked")

// WSHandler authenticates the handshake and bridges the socket to a core.Client.
type WSHandler struct {
	auth       *auth.Service
	messaging  *messaging.Service
	presence   *presence.Service
	registry   core.Registry
	cookieName string
	cfg        config.RealtimeConfig
	log        *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(svc Services, cookieName string, cfg config.RealtimeConfig, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		auth:       svc.Auth,
		messaging:  svc.Messaging,
		presence:   svc.Presence,
		registry:   svc.Registry,
		cookieName: cookieName,
		cfg:        cfg,
		log:        logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	// Unauthenticated callers never reach the registry.
	identity, err := h.auth.Authenticate(r.Context(), sessionToken(r, h.cookieName))
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws handshake rejected")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stdhttp.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unauthorized"})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.cfg.AllowedOrigins,
		InsecureSkipVerify: len(h.cfg.AllowedOrigins) == 0,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(utils.NewID(), identity, h.cfg.EventBuffer)
	if err := h.registry.Register(client); err != nil {
		h.log.Error().Err(err).Msg("register client")
		conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	defer h.registry.Unregister(client)

	logger := h.log.With().Str("conn_id", client.ID).Str("user_id", client.UserID).Logger()
	logger.Info().Msg("ws connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	if errors.Is(err, errKicked) {
		logger.Info().Str("reason", client.KickReason()).Msg("ws kicked")
		return
	}

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		s := websocket.CloseStatus(err)
		if s != websocket.StatusNormalClosure && s != websocket.StatusGoingAway {
			logger.Warn().Err(err).Msg("ws connection closed with error")
			status = websocket.StatusInternalError
			reason = "internal error"
		}
	}
	conn.Close(status, reason)
	logger.Info().Msg("ws disconnected")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			client.Send(core.ErrorEvent(core.BadRequest("text frames only")))
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			client.Send(core.ErrorEvent(core.BadRequest("invalid json")))
			continue
		}
		if err := h.dispatch(ctx, client, inbound); err != nil {
			ce := core.ToCoreError(err)
			if ce.Code == core.ErrCodeInternal {
				logger.Error().Err(err).Str("type", inbound.Type).Msg("inbound failed")
			} else {
				logger.Debug().Err(err).Str("type", inbound.Type).Msg("inbound rejected")
			}
			client.Send(core.ErrorEvent(ce))
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, inbound proto.Inbound) error {
	switch inbound.Type {
	case proto.InboundTypeJoinChat:
		id, err := decodeConversationData(inbound.Data)
		if err != nil {
			return err
		}
		if err := h.messaging.CanJoin(ctx, client.UserID, id); err != nil {
			return err
		}
		room := core.ConversationRoom(id)
		if err := h.registry.Join(client, room); err != nil {
			return err
		}
		client.Send(&core.Event{Name: core.EventJoined, Room: room, Payload: proto.RoomAck{ConversationID: id}})
		return nil
	case proto.InboundTypeLeaveChat:
		id, err := decodeConversationData(inbound.Data)
		if err != nil {
			return err
		}
		room := core.ConversationRoom(id)
		if err := h.registry.Leave(client, room); err != nil {
			return err
		}
		client.Send(&core.Event{Name: core.EventLeft, Room: room, Payload: proto.RoomAck{ConversationID: id}})
		return nil
	case proto.InboundTypeTyping:
		id, err := decodeConversationData(inbound.Data)
		if err != nil {
			return err
		}
		return h.presence.Typing(client, id)
	case proto.InboundTypeStopTyping:
		id, err := decodeConversationData(inbound.Data)
		if err != nil {
			return err
		}
		return h.presence.StopTyping(client, id)
	case proto.InboundTypeMarkRead:
		data, err := decodeMarkReadData(inbound.Data)
		if err != nil {
			return err
		}
		return h.presence.MessageRead(ctx, client, data.ConversationID, data.MessageID)
	default:
		return core.BadRequest("unknown message type")
	}
}

// writeLoop is the only writer on conn. After a kick it flushes what is queued
// and closes the socket with the kick reason.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case event := <-client.Events:
			if err := h.write(ctx, conn, event); err != nil {
				logger.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-client.Done():
			h.flush(ctx, conn, client)
			conn.Close(websocket.StatusPolicyViolation, client.KickReason())
			return errKicked
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) flush(ctx context.Context, conn *websocket.Conn, client *core.Client) {
	for {
		select {
		case event := <-client.Events:
			if err := h.write(ctx, conn, event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, event *core.Event) error {
	if h.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.WriteTimeout)
		defer cancel()
	}
	return wsjson.Write(ctx, conn, outboundFromEvent(event))
}
