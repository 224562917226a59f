package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quikchat/quikchat-server/internal/client"
	"github.com/quikchat/quikchat-server/internal/matchmaker"
	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	svc := matchmaker.New(zerolog.Nop(), time.Minute)
	require.NoError(t, svc.Start())
	t.Cleanup(func() { require.NoError(t, svc.Stop()) })

	ts := httptest.NewServer(NewHandler(zerolog.Nop(), svc, nil))
	t.Cleanup(ts.Close)

	return ts, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig()
	cfg.URL = url
	cfg.Logger = zerolog.Nop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// waitFor reads notifications until one of the wanted type arrives,
// skipping everything else.
func waitFor(t *testing.T, c *client.Client, msgType string) *protocol.Envelope {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-c.Notifications():
			require.True(t, ok, "connection closed while waiting for %s", msgType)
			if env.Type == msgType {
				return env
			}
		case <-deadline:
			require.Failf(t, "timeout", "no %s notification arrived", msgType)
			return nil
		}
	}
}

func TestPairingAndRelayOverWebsocket(t *testing.T) {
	_, url := newTestServer(t)

	c1 := dial(t, url)
	c2 := dial(t, url)
	require.NotEmpty(t, c1.ID())
	require.NotEqual(t, c1.ID(), c2.ID())

	require.NoError(t, c1.JoinQueue(nil, nil))
	waitFor(t, c1, protocol.NoteQueued)
	require.NoError(t, c2.JoinQueue(nil, nil))

	var p1, p2 protocol.Paired
	require.NoError(t, waitFor(t, c1, protocol.NotePaired).Decode(&p1))
	require.NoError(t, waitFor(t, c2, protocol.NotePaired).Decode(&p2))
	require.Equal(t, c2.ID(), p1.PartnerID)
	require.Equal(t, c1.ID(), p2.PartnerID)

	// Chat relays with the sender stamped in.
	require.NoError(t, c1.Chat(p1.PartnerID, "hello there"))
	var msg protocol.ChatMessage
	require.NoError(t, waitFor(t, c2, protocol.NoteChatMessage).Decode(&msg))
	require.Equal(t, c1.ID(), msg.From)
	require.Equal(t, "hello there", msg.Text)

	// Negotiation envelopes pass through untouched.
	require.NoError(t, c2.Signal(p2.PartnerID, "offer", json.RawMessage(`{"sdp":"v=0"}`)))
	var sig protocol.Signal
	require.NoError(t, waitFor(t, c1, protocol.NoteSignal).Decode(&sig))
	require.Equal(t, c2.ID(), sig.From)
	require.Equal(t, "offer", sig.SignalType)
	require.JSONEq(t, `{"sdp":"v=0"}`, string(sig.Payload))

	// Dropping the transport is a disconnect: the partner finds out.
	c1.Close()
	var gone protocol.PeerDisconnected
	require.NoError(t, waitFor(t, c2, protocol.NotePeerDisconnected).Decode(&gone))
	require.Equal(t, c1.ID(), gone.ID)
}

func TestPrivateInviteOverWebsocket(t *testing.T) {
	_, url := newTestServer(t)

	c1 := dial(t, url)
	c2 := dial(t, url)
	c3 := dial(t, url)

	require.NoError(t, c1.InvitePrivate(c2.ID()))

	var inv protocol.PrivateInvite
	require.NoError(t, waitFor(t, c2, protocol.NotePrivateInvite).Decode(&inv))
	require.Equal(t, c1.ID(), inv.From)

	require.NoError(t, c2.AcceptInvite(inv.InviteID))

	var pp1, pp2 protocol.PairedPrivate
	require.NoError(t, waitFor(t, c1, protocol.NotePairedPrivate).Decode(&pp1))
	require.NoError(t, waitFor(t, c2, protocol.NotePairedPrivate).Decode(&pp2))
	require.Equal(t, pp1.RoomID, pp2.RoomID)
	require.Equal(t, c2.ID(), pp1.PartnerID)
	require.Equal(t, c1.ID(), pp2.PartnerID)

	// The invite is consumed; a third party replaying it gets turned away.
	require.NoError(t, c3.AcceptInvite(inv.InviteID))
	var failed protocol.InviteFailed
	require.NoError(t, waitFor(t, c3, protocol.NoteInviteFailed).Decode(&failed))
	require.Equal(t, matchmaker.ErrInviteNotFound.Error(), failed.Reason)
}

func TestRecoverableErrorsStayWithTheSender(t *testing.T) {
	_, url := newTestServer(t)

	c1 := dial(t, url)

	require.NoError(t, c1.JoinQueue(nil, nil))
	waitFor(t, c1, protocol.NoteQueued)

	require.NoError(t, c1.JoinQueue(nil, nil))

	var errNote protocol.Error
	require.NoError(t, waitFor(t, c1, protocol.NoteError).Decode(&errNote))
	require.Equal(t, matchmaker.ErrAlreadyQueued.Error(), errNote.Reason)
}

func TestUnknownCommandsAreIgnored(t *testing.T) {
	_, url := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	var welcome protocol.Envelope
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, protocol.NoteWelcome, welcome.Type)

	// A command from an older protocol variant must not kill the session.
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Type: "sendAudio", Data: json.RawMessage(`{"x":1}`)}))
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Type: protocol.CmdJoinQueue}))

	var queued protocol.Envelope
	require.NoError(t, conn.ReadJSON(&queued))
	require.Equal(t, protocol.NoteQueued, queued.Type)
}
