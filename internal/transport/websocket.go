// Package transport binds the matchmaking service to gorilla/websocket
// connections. Each connection gets a read loop (dispatching commands) and a
// write pump (draining a buffered send channel); separating the two keeps a
// slow browser from blocking the matchmaker.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	httpmiddleware "github.com/quikchat/quikchat-server/internal/http"
	"github.com/quikchat/quikchat-server/internal/matchmaker"
	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Handler upgrades HTTP requests at the websocket endpoint and runs the
// per-connection pumps.
type Handler struct {
	log      zerolog.Logger
	svc      *matchmaker.Service
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler for the given service. An empty
// origin list (or "*") allows any origin.
func NewHandler(log zerolog.Logger, svc *matchmaker.Service, allowedOrigins []string) *Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return &Handler{
		log: log.With().Str("component", "transport").Logger(),
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConn{
		conn: conn,
		send: make(chan *protocol.Envelope, sendBufferSize),
		done: make(chan struct{}),
	}

	ctx := r.Context()
	id := h.svc.Connect(ctx, c)

	h.log.Debug().
		Str("session_id", id).
		Str("client_ip", httpmiddleware.ExtractClientIP(r)).
		Msg("websocket connected")

	go c.writePump()
	h.readLoop(ctx, c, id)

	// The session is gone regardless of why the loop ended; purge it.
	h.svc.Disconnect(context.WithoutCancel(ctx), id)
	c.close()
}

func (h *Handler) readLoop(ctx context.Context, c *wsConn, id string) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("session_id", id).Msg("websocket read error")
			}
			return
		}
		h.dispatch(ctx, c, id, &env)
	}
}

// dispatch routes one inbound envelope. Recoverable failures are reported
// to the sender only; unknown types are ignored so older clients keep
// working.
func (h *Handler) dispatch(ctx context.Context, c *wsConn, id string, env *protocol.Envelope) {
	switch env.Type {
	case protocol.CmdJoinQueue:
		var p protocol.JoinQueue
		if len(env.Data) > 0 {
			if !h.decode(c, id, env, &p) {
				return
			}
		}
		if err := h.svc.JoinQueue(ctx, id, p.Profile, p.Filters); err != nil {
			h.sendError(c, err)
		}

	case protocol.CmdLeaveQueue:
		if err := h.svc.LeaveQueue(ctx, id); err != nil {
			h.sendError(c, err)
		}

	case protocol.CmdNext:
		if err := h.svc.Next(ctx, id); err != nil {
			h.sendError(c, err)
		}

	case protocol.CmdLeave:
		if err := h.svc.Leave(ctx, id); err != nil {
			h.sendError(c, err)
		}

	case protocol.CmdInvitePrivate:
		var p protocol.InvitePrivate
		if !h.decode(c, id, env, &p) {
			return
		}
		if _, err := h.svc.CreateInvite(ctx, id, p.To); err != nil {
			h.sendInviteFailed(c, "", err)
		}

	case protocol.CmdAcceptInvite:
		var p protocol.AcceptInvite
		if !h.decode(c, id, env, &p) {
			return
		}
		if err := h.svc.AcceptInvite(ctx, p.InviteID, id); err != nil {
			h.sendInviteFailed(c, p.InviteID, err)
		}

	case protocol.CmdRejectInvite:
		var p protocol.RejectInvite
		if !h.decode(c, id, env, &p) {
			return
		}
		if err := h.svc.RejectInvite(ctx, p.InviteID, id); err != nil {
			h.sendInviteFailed(c, p.InviteID, err)
		}

	case protocol.CmdSignal:
		var p protocol.Signal
		if !h.decode(c, id, env, &p) {
			return
		}
		h.svc.Relay(ctx, id, p.To, protocol.MustEnvelope(protocol.NoteSignal, protocol.Signal{
			From:       id,
			SignalType: p.SignalType,
			Payload:    p.Payload,
		}))

	case protocol.CmdChatMessage:
		var p protocol.ChatMessage
		if !h.decode(c, id, env, &p) {
			return
		}
		h.svc.Relay(ctx, id, p.To, protocol.MustEnvelope(protocol.NoteChatMessage, protocol.ChatMessage{
			From: id,
			Text: p.Text,
		}))

	case protocol.CmdFileMessage:
		var p protocol.FileMessage
		if !h.decode(c, id, env, &p) {
			return
		}
		h.svc.Relay(ctx, id, p.To, protocol.MustEnvelope(protocol.NoteFileMessage, protocol.FileMessage{
			From: id,
			URL:  p.URL,
			Name: p.Name,
			Mime: p.Mime,
		}))

	case protocol.CmdReportUser:
		var p protocol.ReportUser
		if !h.decode(c, id, env, &p) {
			return
		}
		h.svc.Report(ctx, id, p.Target)

	default:
		h.log.Debug().Str("session_id", id).Str("type", env.Type).Msg("unknown command ignored")
	}
}

func (h *Handler) decode(c *wsConn, id string, env *protocol.Envelope, out any) bool {
	if err := env.Decode(out); err != nil {
		h.log.Debug().Err(err).Str("session_id", id).Str("type", env.Type).Msg("malformed payload")
		h.sendError(c, errors.New("malformed payload"))
		return false
	}
	return true
}

func (h *Handler) sendError(c *wsConn, err error) {
	_ = c.Send(protocol.MustEnvelope(protocol.NoteError, protocol.Error{Reason: err.Error()}))
}

func (h *Handler) sendInviteFailed(c *wsConn, inviteID string, err error) {
	_ = c.Send(protocol.MustEnvelope(protocol.NoteInviteFailed, protocol.InviteFailed{
		InviteID: inviteID,
		Reason:   err.Error(),
	}))
}

// wsConn wraps one websocket connection with a buffered outbound channel.
type wsConn struct {
	conn *websocket.Conn
	send chan *protocol.Envelope
	once sync.Once
	done chan struct{}
}

// Send implements matchmaker.Sender. It never blocks: a full buffer means
// the consumer is too slow to be worth keeping, so the connection is
// dropped instead.
func (c *wsConn) Send(env *protocol.Envelope) error {
	select {
	case <-c.done:
		return errConnClosed
	case c.send <- env:
		return nil
	default:
		c.close()
		return errSendBufferFull
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
