package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/urfave/cli"

	"github.com/illarion/unvault/internal/core"
	"github.com/illarion/unvault/internal/git"
)

// DecryptCommand decrypts a vault directory in place
func DecryptCommand(ctx context.Context) cli.Command {
	return cli.Command{
		Name:      "decrypt",
		Usage:     "Unlock the vault and decrypt every encrypted file in DIR",
		ArgsUsage: "[DIR]",
		Action: func(c *cli.Context) error {
			return Decrypt(ctx, c)
		},
	}
}

// Decrypt runs the decrypt operation and prints a summary
func Decrypt(ctx context.Context, c *cli.Context) error {
	u, e, err := newUnvault(c)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := u.Decrypt(ctx)
	if result != nil {
		printSummary(os.Stdout, result)
	}
	return err
}

func printSummary(w io.Writer, result *core.Result) {
	if result.Wiped != nil {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("Wiped %d encrypted artifact(s)", len(result.Wiped.Removed))))
	}

	report := result.Report
	if report == nil {
		return
	}
	if report.Empty() {
		fmt.Fprintln(w, "Nothing to decrypt")
		return
	}

	for _, name := range report.Decrypted() {
		fmt.Fprintf(w, "%s %s\n", okStyle.Render("decrypted:"), name)
	}
	for _, res := range report.Skipped() {
		fmt.Fprintf(w, "%s %s (%s)\n", warnStyle.Render("skipped:"), res.Source, res.Reason)
	}
	for _, res := range report.Failed() {
		fmt.Fprintf(w, "%s %s (%s)\n", errorStyle.Render("failed:"), res.Source, res.Reason)
	}
	for _, art := range report.Residual {
		fmt.Fprintf(w, "%s %s could not be erased: %v\n", errorStyle.Render("residual:"), art.Path, art.Err)
	}

	fmt.Fprintf(w, "\n%d decrypted, %d skipped, %d failed (%s in %s)\n",
		len(report.Decrypted()), len(report.Skipped()), len(report.Failed()),
		humanize.Bytes(uint64(report.Bytes)), durafmt.Parse(result.Elapsed).LimitFirstN(2).String())

	if out := git.FormatExposure(result.Exposure); out != "" {
		fmt.Fprint(w, out)
	}
}
