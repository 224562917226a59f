// Package client is a typed Go client for the signaling protocol, used by
// the qcbot tool and the transport tests. One Client is one session; the
// server assigns the id on connect.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/rs/zerolog"
)

// Config holds client configuration.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// MaxDialElapsedTime bounds the total time spent retrying the initial
	// dial with exponential backoff.
	MaxDialElapsedTime time.Duration
	Logger             zerolog.Logger
}

// DefaultConfig returns a default client configuration.
func DefaultConfig() Config {
	return Config{
		URL:                "ws://localhost:8080/ws",
		MaxDialElapsedTime: 30 * time.Second,
	}
}

// Client is one live session on the signaling server.
type Client struct {
	log   zerolog.Logger
	conn  *websocket.Conn
	notes chan *protocol.Envelope

	writeMu sync.Mutex

	id      string
	idReady chan struct{}

	once sync.Once
	done chan struct{}
}

// Dial connects to the signaling server, retrying with exponential backoff
// until the context is cancelled or the elapsed-time bound is hit, and waits
// for the server's welcome so the session id is known before returning.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	operation := func() (*websocket.Conn, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
		return conn, err
	}

	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(cfg.MaxDialElapsedTime),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	c := &Client{
		log:     cfg.Logger.With().Str("component", "client").Logger(),
		conn:    conn,
		notes:   make(chan *protocol.Envelope, 64),
		idReady: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	select {
	case <-c.idReady:
	case <-c.done:
		return nil, errors.New("connection closed before welcome")
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}

	c.log.Debug().Str("session_id", c.id).Msg("connected")
	return c, nil
}

func (c *Client) readLoop() {
	defer func() {
		c.Close()
		close(c.notes)
	}()

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}

		if env.Type == protocol.NoteWelcome && c.id == "" {
			var w protocol.Welcome
			if err := env.Decode(&w); err == nil {
				c.id = w.ID
				close(c.idReady)
			}
			continue
		}

		select {
		case c.notes <- &env:
		case <-c.done:
			return
		}
	}
}

// ID returns the server-assigned session id.
func (c *Client) ID() string {
	return c.id
}

// Notifications returns the stream of server notifications. The channel is
// closed when the connection drops.
func (c *Client) Notifications() <-chan *protocol.Envelope {
	return c.notes
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) send(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", msgType, err)
	}
	return nil
}

// JoinQueue asks for a public match with optional profile and filters.
func (c *Client) JoinQueue(profile *protocol.Profile, filters *protocol.Filters) error {
	if profile == nil && filters == nil {
		return c.send(protocol.CmdJoinQueue, nil)
	}
	return c.send(protocol.CmdJoinQueue, protocol.JoinQueue{Profile: profile, Filters: filters})
}

// LeaveQueue withdraws from the public queue.
func (c *Client) LeaveQueue() error {
	return c.send(protocol.CmdLeaveQueue, nil)
}

// Next skips the current partner and re-queues.
func (c *Client) Next() error {
	return c.send(protocol.CmdNext, nil)
}

// Leave drops the current pairing or room without re-queueing.
func (c *Client) Leave() error {
	return c.send(protocol.CmdLeave, nil)
}

// InvitePrivate proposes a private session to a specific peer.
func (c *Client) InvitePrivate(to string) error {
	return c.send(protocol.CmdInvitePrivate, protocol.InvitePrivate{To: to})
}

// AcceptInvite accepts a pending invite.
func (c *Client) AcceptInvite(inviteID string) error {
	return c.send(protocol.CmdAcceptInvite, protocol.AcceptInvite{InviteID: inviteID})
}

// RejectInvite declines a pending invite.
func (c *Client) RejectInvite(inviteID string) error {
	return c.send(protocol.CmdRejectInvite, protocol.RejectInvite{InviteID: inviteID})
}

// Signal relays a negotiation envelope to a peer.
func (c *Client) Signal(to, signalType string, payload json.RawMessage) error {
	return c.send(protocol.CmdSignal, protocol.Signal{To: to, SignalType: signalType, Payload: payload})
}

// Chat relays a text message to a peer.
func (c *Client) Chat(to, text string) error {
	return c.send(protocol.CmdChatMessage, protocol.ChatMessage{To: to, Text: text})
}

// File relays file-transfer metadata to a peer.
func (c *Client) File(to, url, name, mime string) error {
	return c.send(protocol.CmdFileMessage, protocol.FileMessage{To: to, URL: url, Name: name, Mime: mime})
}

// Report files a moderation report against a peer.
func (c *Client) Report(target string) error {
	return c.send(protocol.CmdReportUser, protocol.ReportUser{Target: target})
}
