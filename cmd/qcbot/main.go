// qcbot is a headless exerciser for the signaling server: it connects a
// number of bot sessions that queue, pair up, trade a few chat messages and
// skip to the next partner. Useful as a smoke test against a running server.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/quikchat/quikchat-server/internal/client"
	"github.com/quikchat/quikchat-server/internal/logger"
	"github.com/quikchat/quikchat-server/internal/protocol"
	"github.com/rs/zerolog"
)

var cli struct {
	Debug    bool          `help:"Enable debug mode."`
	URL      string        `help:"websocket endpoint" default:"ws://localhost:8080/ws" env:"QUIKCHAT_URL"`
	Bots     int           `help:"number of bot sessions to run" default:"2"`
	Messages int           `help:"chat messages each bot sends per pairing" default:"3"`
	Rounds   int           `help:"pairings each bot goes through before exiting" default:"1"`
	Timeout  time.Duration `help:"per-bot run timeout" default:"30s"`
}

func main() {
	cmd := kong.Parse(&cli)

	log := logger.Setup(cli.Debug)

	ctx, cancel := context.WithTimeout(context.Background(), cli.Timeout)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < cli.Bots; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := runBot(ctx, log, n); err != nil {
				log.Error().Err(err).Int("bot", n).Msg("bot failed")
			}
		}(i)
	}
	wg.Wait()

	cmd.Exit(0)
}

func runBot(ctx context.Context, log zerolog.Logger, n int) error {
	cfg := client.DefaultConfig()
	cfg.URL = cli.URL
	cfg.Logger = log

	c, err := client.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	log = log.With().Int("bot", n).Str("session_id", c.ID()).Logger()
	log.Info().Msg("bot connected")

	if err := c.JoinQueue(nil, nil); err != nil {
		return err
	}

	rounds := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-c.Notifications():
			if !ok {
				return nil
			}
			switch env.Type {
			case protocol.NotePaired:
				var p protocol.Paired
				if err := env.Decode(&p); err != nil {
					return err
				}
				log.Info().Str("partner_id", p.PartnerID).Msg("paired")
				for i := 0; i < cli.Messages; i++ {
					if err := c.Chat(p.PartnerID, fmt.Sprintf("hello %d from bot %d", i, n)); err != nil {
						return err
					}
				}
				rounds++
				if rounds >= cli.Rounds {
					return c.Leave()
				}
				if err := c.Next(); err != nil {
					return err
				}
			case protocol.NoteChatMessage:
				var m protocol.ChatMessage
				if err := env.Decode(&m); err != nil {
					return err
				}
				log.Debug().Str("from", m.From).Str("text", m.Text).Msg("chat received")
			case protocol.NotePartnerLeft, protocol.NotePeerDisconnected:
				if err := c.Next(); err != nil {
					return err
				}
			}
		}
	}
}
