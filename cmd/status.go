package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/urfave/cli"

	"github.com/illarion/unvault/internal/core"
)

// StatusCommand shows vault state without a password
func StatusCommand(ctx context.Context) cli.Command {
	return cli.Command{
		Name:      "status",
		Usage:     "Show vault state and leftover recovery markers (no password)",
		ArgsUsage: "[DIR]",
		Action: func(c *cli.Context) error {
			u, e, err := newUnvault(c)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := u.Status(ctx)
			if err != nil {
				return err
			}
			printStatus(os.Stdout, st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *core.Status) {
	fmt.Fprintf(w, "Vault directory: %s\n", st.Dir)
	if st.Initialized {
		fmt.Fprintf(w, "State: %s (PBKDF2-HMAC-SHA256, %d iterations", okStyle.Render("initialized"), st.Iterations)
		if !st.Modified.IsZero() {
			fmt.Fprintf(w, ", modified %s", humanize.Time(st.Modified))
		}
		fmt.Fprintln(w, ")")
		if st.InKeyring {
			fmt.Fprintln(w, "Keyring: password saved")
		}
	} else {
		fmt.Fprintf(w, "State: %s\n", warnStyle.Render("not initialized"))
	}

	inv := st.Inventory
	if inv.HasKeyBlob {
		fmt.Fprintln(w, "Encrypted keys: present")
	} else {
		fmt.Fprintln(w, warnStyle.Render("Encrypted keys: missing"))
	}
	fmt.Fprintf(w, "Encrypted files: %d (%d complete)\n", len(inv.Encrypted), inv.Complete())
	for _, name := range inv.MissingSidecar {
		fmt.Fprintf(w, "  %s %s\n", warnStyle.Render("missing sidecar:"), name)
	}

	if len(st.Markers) > 0 {
		fmt.Fprintln(w, "\nUnfinished operations:")
		for _, m := range st.Markers {
			fmt.Fprintf(w, "  %s %s (pid %d, started %s, %s ago)\n", m.Operation, m.Directory, m.PID,
				m.Started.Format(time.RFC3339), durafmt.Parse(m.Age()).LimitFirstN(1))
		}
		fmt.Fprintln(w, dimStyle.Render("Run 'unvault recover' to clear them"))
	}
}
