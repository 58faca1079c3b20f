package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/nullstream/wsendpoint/pkg/websocket"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run an echo server: every message received is sent back verbatim",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "address to listen on",
				Value: ":8080",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar("WSECHO_ADDR"),
				),
			},
			&cli.BoolFlag{
				Name:  "pretty-log",
				Usage: "human-readable console logging, instead of JSON",
			},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	log := newLogger(cmd.Bool("pretty-log"))
	websocket.SetDefaultLogger(log)

	callbacks := websocket.Callbacks{
		OnOpen: func(c *websocket.Conn) {
			log.Info().Str("conn", c.ID().String()).Msg("connection opened")
		},
		OnMessage: func(c *websocket.Conn, t websocket.MessageType, payload []byte) {
			if err := c.Send(t, payload); err != nil {
				log.Warn().Err(err).Str("conn", c.ID().String()).Msg("echo failed")
			}
		},
		OnClose: func(c *websocket.Conn, err error) {
			log.Info().Err(err).Str("conn", c.ID().String()).Msg("connection closed")
		},
	}

	srv, err := websocket.OpenServer(cmd.String("addr"), callbacks, websocket.WithServerLogger(log))
	if err != nil {
		return err
	}
	log.Info().Str("addr", srv.Addr().String()).Msg("listening")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Info().Msg("shutting down")
	return srv.Close()
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
