package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/nullstream/wsendpoint/pkg/websocket"
)

func dialCommand() *cli.Command {
	return &cli.Command{
		Name:  "dial",
		Usage: "connect to a WebSocket server, send lines from stdin, print replies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "addr",
				Usage:    "host:port to dial",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host header to send",
				Value: "localhost",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "request path for the upgrade request",
				Value: "/",
			},
			&cli.BoolFlag{
				Name:  "pretty-log",
				Usage: "human-readable console logging, instead of JSON",
			},
		},
		Action: runDial,
	}
}

func runDial(ctx context.Context, cmd *cli.Command) error {
	log := newLogger(cmd.Bool("pretty-log"))

	closed := make(chan error, 1)
	callbacks := websocket.Callbacks{
		OnMessage: func(c *websocket.Conn, t websocket.MessageType, payload []byte) {
			fmt.Printf("< %s\n", payload)
		},
		OnClose: func(c *websocket.Conn, err error) {
			closed <- err
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := websocket.OpenClient(dialCtx, cmd.String("addr"), cmd.String("host"), cmd.String("path"), callbacks,
		websocket.WithClientLogger(log))
	if err != nil {
		return fmt.Errorf("wsecho: failed to connect: %v", err)
	}
	defer c.Close(websocket.CloseNormalClosure)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := c.Send(websocket.TextMessage, scanner.Bytes()); err != nil {
			return fmt.Errorf("wsecho: send failed: %v", err)
		}
	}

	_ = c.Close(websocket.CloseNormalClosure)
	<-closed
	return nil
}
