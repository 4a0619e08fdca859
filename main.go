package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/urfave/cli"

	"github.com/illarion/unvault/cmd"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() (code int) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Deferred cleanup inside the commands has already run by the time a
	// panic reaches here
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Error: unexpected failure: %v\n%s", r, debug.Stack())
			code = cmd.ExitFailure
		}
	}()

	app := cli.NewApp()
	app.Name = "unvault"
	app.Usage = "Decrypt a password-protected file vault in place"
	app.Version = version
	app.Flags = getFlags()
	app.Commands = []cli.Command{
		cmd.DecryptCommand(ctx),
		cmd.StatusCommand(ctx),
		cmd.RecoverCommand(ctx),
		cmd.KeyringCommand(ctx),
		cmd.CompletionCommand(),
	}

	err := app.Run(os.Args)
	return cmd.HandleError(os.Stderr, err)
}

func getFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load security settings from `FILE` (default: ~/.unvault/security.yaml)",
		},
		cli.StringFlag{
			Name:  "level, l",
			Usage: "logging level [debug|info|warn|error]",
		},
	}
}
