// Command mauzr-agent connects an agent to its broker and keeps the session
// alive. The pub and sub commands publish or print single topics through the
// same connector.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:     "mauzr-agent",
		Usage:    "MQTT agent of the mauzr framework",
		Version:  "v0.1.0",
		Flags:    Flags,
		Commands: []*cli.Command{runCommand, pubCommand, subCommand},
		Action:   runAction,
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mauzr-agent:", err)
		cancel()
		os.Exit(1)
	}
}
