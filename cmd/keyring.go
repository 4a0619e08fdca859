package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/illarion/unvault/internal/core"
	"github.com/illarion/unvault/internal/crypto"
)

// KeyringCommand manages the password saved in the OS keyring
func KeyringCommand(ctx context.Context) cli.Command {
	return cli.Command{
		Name:  "keyring",
		Usage: "Manage the vault password in the OS keyring",
		Subcommands: []cli.Command{
			{
				Name:   "save",
				Usage:  "Verify and save the password",
				Action: func(c *cli.Context) error { return keyringSave(ctx, c) },
			},
			{
				Name:   "delete",
				Usage:  "Remove the saved password",
				Action: keyringDelete,
			},
			{
				Name:   "status",
				Usage:  "Show whether a password is saved",
				Action: keyringStatus,
			},
		},
	}
}

func keyringSave(ctx context.Context, c *cli.Context) error {
	u, e, err := newUnvault(c)
	if err != nil {
		return err
	}
	defer e.Close()

	src := core.NewChain(&core.EnvSource{Name: core.PasswordEnv}, &core.PromptSource{In: os.Stdin, Out: os.Stderr})
	password, err := src.Password(ctx, 0)
	if err != nil {
		return err
	}
	defer crypto.ClearBytes(password)

	if err := u.SaveToKeyring(password); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	fmt.Println(okStyle.Render("Password saved to keyring"))
	if !e.settings.UseKeyring {
		fmt.Println(dimStyle.Render("Set use_keyring: true in the settings file to use it"))
	}
	return nil
}

func keyringDelete(c *cli.Context) error {
	u, e, err := newUnvault(c)
	if err != nil {
		return err
	}
	defer e.Close()

	deleted, err := u.DeleteFromKeyring()
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Println("No password stored in keyring")
		return nil
	}
	fmt.Println("Password removed from keyring")
	return nil
}

func keyringStatus(c *cli.Context) error {
	u, e, err := newUnvault(c)
	if err != nil {
		return err
	}
	defer e.Close()

	if u.KeyringStatus() {
		fmt.Println("Password is stored in keyring")
	} else {
		fmt.Println("No password stored in keyring")
	}
	return nil
}
