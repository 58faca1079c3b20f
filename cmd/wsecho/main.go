package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "wsecho",
		Usage: "a minimal WebSocket server and client for the wsendpoint engine",
		Commands: []*cli.Command{
			serveCommand(),
			dialCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsecho: %v\n", err)
		os.Exit(1)
	}
}
