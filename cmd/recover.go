package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli"
)

// RecoverCommand clears recovery markers left by interrupted runs
func RecoverCommand(ctx context.Context) cli.Command {
	return cli.Command{
		Name:      "recover",
		Usage:     "Clear the recovery marker left by an interrupted run and compact the state database",
		ArgsUsage: "[DIR]",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  "all, a",
				Usage: "clear markers for every directory",
			},
		},
		Action: func(c *cli.Context) error {
			u, e, err := newUnvault(c)
			if err != nil {
				return err
			}
			defer e.Close()

			cleared, err := u.Recover(ctx, c.Bool("all"))
			if err != nil {
				return err
			}
			if len(cleared) == 0 {
				fmt.Println("No recovery markers found")
				return nil
			}
			for _, m := range cleared {
				fmt.Printf("Cleared %s marker for %s\n", m.Operation, m.Directory)
			}
			fmt.Println(dimStyle.Render("Check the directory for files left in an intermediate state"))
			return nil
		},
	}
}
