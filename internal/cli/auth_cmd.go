// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/nutrichat/internal/config"
	"github.com/jeranaias/nutrichat/internal/unlock"
)

// errUnlockCancelled is returned when the user backs out of the code prompt.
var errUnlockCancelled = errors.New("unlock cancelled")

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

func (a *app) loginCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		Example: `  nutrichat login
  nutrichat login --email sam@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.services(); err != nil {
				return err
			}
			if email == "" {
				fmt.Fprint(a.out, "Email: ")
				line, err := readLine(a.lines)
				if err != nil {
					return fmt.Errorf("read email: %w", err)
				}
				email = line
			}
			password, err := readSecret(a.in, a.lines, a.out, "Password: ")
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if err := a.auth.Login(cmd.Context(), email, password); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("Logged in as "+strings.TrimSpace(email)))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.services(); err != nil {
				return err
			}
			if err := a.auth.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("Logged out."))
			return nil
		},
	}
}

// =============================================================================
// UNLOCK
// =============================================================================

func (a *app) unlockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Manage the one-time-code gate in front of chat",
	}

	var account string
	enroll := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll an authenticator app and enable the gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.services(); err != nil {
				return err
			}
			gate := a.newGate()
			url, err := gate.Enroll("nutrichat", account)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Add this account to your authenticator app:")
			fmt.Fprintln(a.out, "  "+url)

			if res := gate.Authenticate(cmd.Context()); res != unlock.Success {
				_ = gate.Unenroll()
				return fmt.Errorf("enrollment not confirmed: %s", res)
			}
			if err := a.saveConfig(func(cfg *config.Config) { cfg.Unlock.Enabled = true }); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("Unlock enabled."))
			return nil
		},
	}
	enroll.Flags().StringVar(&account, "account", "nutrichat", "account label shown in the app")

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Remove the authenticator and disable the gate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.services(); err != nil {
				return err
			}
			if err := a.newGate().Unenroll(); err != nil {
				return err
			}
			if err := a.saveConfig(func(cfg *config.Config) { cfg.Unlock.Enabled = false }); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("Unlock disabled."))
			return nil
		},
	}

	cmd.AddCommand(enroll, disable)
	return cmd
}

func (a *app) newGate() *unlock.TOTP {
	prompt := func(ctx context.Context) (string, error) {
		code, err := readSecret(a.in, a.lines, a.out, "One-time code: ")
		if errors.Is(err, io.EOF) {
			return "", unlock.ErrPromptCancelled
		}
		return code, err
	}
	return unlock.NewTOTP(a.store, prompt,
		unlock.WithMaxAttempts(a.cfg.Unlock.MaxAttempts),
		unlock.WithLockoutDuration(a.cfg.LockoutDuration()),
		unlock.WithLogger(a.logger.Named("unlock")))
}

// unlockGate prompts until a code is accepted or the gate gives up.
func (a *app) unlockGate(ctx context.Context) error {
	gate := a.newGate()
	for {
		switch res := gate.Authenticate(ctx); res {
		case unlock.Success:
			return nil
		case unlock.Failed:
			fmt.Fprintln(a.errOut, WarningStyle.Render("Incorrect code, try again."))
		case unlock.Cancelled:
			return errUnlockCancelled
		case unlock.NotEnrolled:
			return errors.New("unlock is enabled but no authenticator is enrolled; run `nutrichat unlock enroll`")
		case unlock.LockedOut:
			return fmt.Errorf("too many incorrect codes; try again in %s", gate.LockoutRemaining().Round(time.Second))
		default:
			return fmt.Errorf("unlock: %s", res)
		}
	}
}

// =============================================================================
// CONFIG
// =============================================================================

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, DimStyle.Render("# "+path))
			fmt.Fprint(a.out, a.cfg.String())
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintln(a.out, SuccessStyle.Render("Wrote "+path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}

// saveConfig applies edit to the loaded configuration and writes it back.
func (a *app) saveConfig(edit func(*config.Config)) error {
	path, err := a.configPath()
	if err != nil {
		return err
	}
	edit(a.cfg)
	return config.Save(a.cfg, path)
}
