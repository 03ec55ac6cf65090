package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"levelverse.io/internal/protocol"
)

type options struct {
	URL   string
	Token string
	// Visit calls increaseLevelVisits on the current level once subscribed.
	Visit bool
	// MaxUpdates stops the bot after that many level updates (0 = run until
	// the connection or ctx ends).
	MaxUpdates int
}

func main() {
	var opts options
	flag.StringVar(&opts.URL, "url", "ws://localhost:8080/v1/ws", "ws url")
	flag.StringVar(&opts.Token, "token", "", "session token (empty for an anonymous connection)")
	flag.BoolVar(&opts.Visit, "visit", false, "count a visit on the current level")
	flag.IntVar(&opts.MaxUpdates, "updates", 0, "exit after n level updates")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}).With().Timestamp().Str("component", "bot").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts, logger); err != nil {
		logger.Fatal().Err(err).Msg("bot stopped")
	}
}

func run(ctx context.Context, opts options, logger zerolog.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return oops.Wrapf(err, "dial")
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Token: opts.Token}
	if err := conn.WriteJSON(hello); err != nil {
		return oops.Wrapf(err, "send HELLO")
	}

	updates := 0
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Info().Str("session_id", w.SessionID).Str("user_id", w.UserID).Msg("WELCOME")
			sub := protocol.SubMsg{Type: protocol.TypeSub, ID: "current", Name: protocol.SubCurrentLevel}
			if err := conn.WriteJSON(sub); err != nil {
				return err
			}

		case protocol.TypeAdded, protocol.TypeChanged, protocol.TypeRemoved:
			var d protocol.DocMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				continue
			}
			name, _ := d.Fields["name"].(string)
			logger.Info().Str("type", d.Type).Str("level_id", d.ID).Str("name", name).Msg("level")
			if d.Type == protocol.TypeAdded && opts.Visit {
				params, _ := json.Marshal([]string{d.ID})
				call := protocol.MethodMsg{Type: protocol.TypeMethod, ID: "visit", Method: protocol.MethodIncreaseLevelVisits, Params: params}
				if err := conn.WriteJSON(call); err != nil {
					return err
				}
			}
			updates++
			if opts.MaxUpdates > 0 && updates >= opts.MaxUpdates {
				return nil
			}

		case protocol.TypeReady:
			logger.Debug().Msg("READY")

		case protocol.TypeResult, protocol.TypeNoSub:
			var r protocol.ResultMsg
			if err := json.Unmarshal(msg, &r); err != nil {
				continue
			}
			if r.Error != nil {
				logger.Warn().Str("id", r.ID).Str("code", r.Error.Code).Str("message", r.Error.Message).Msg(base.Type)
				continue
			}
			logger.Info().Str("id", r.ID).Msg(base.Type)
		}
	}
}
