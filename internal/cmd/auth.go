package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/inventoryctl/pkg/apiclient"
	"github.com/3leaps/inventoryctl/pkg/output"
	"github.com/3leaps/inventoryctl/pkg/session"
)

// passwordEnv supplies the password when neither flag is given.
const passwordEnv = "INVENTORYCTL_PASSWORD"

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and start a session",
	Long: `Log in with email and password. The session is stored and reused by
later commands until 'inventoryctl logout' or until the API rejects it.

The password is read from --password-stdin, --password or $INVENTORYCTL_PASSWORD.

Examples:
  inventoryctl login --email ana@example.com --password-stdin < pw.txt
  INVENTORYCTL_PASSWORD=... inventoryctl login --email ana@example.com`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and log in",
	Long: `Create an account and log it in. A new account belongs to no company;
create one with 'inventoryctl company create <name>' or ask an admin for an
invitation.`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and erase it from storage",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user and active company",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var (
	authEmail         string
	authPassword      string
	authPasswordStdin bool
	whoamiRefresh     bool
)

func init() {
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)

	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "Account email (required)")
		c.Flags().StringVar(&authPassword, "password", "", "Account password")
		c.Flags().BoolVar(&authPasswordStdin, "password-stdin", false, "Read the password from stdin")
		_ = c.MarkFlagRequired("email")
	}
	whoamiCmd.Flags().BoolVar(&whoamiRefresh, "refresh", false, "Reload the profile and memberships from the API")
}

func readPassword(cmd *cobra.Command) (string, error) {
	if authPasswordStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", exitError(foundry.ExitInvalidArgument, "Failed to read stdin", err)
		}
		authPassword = strings.TrimRight(line, "\r\n")
	}
	if authPassword == "" {
		authPassword = os.Getenv(passwordEnv)
	}
	if authPassword == "" {
		return "", exitError(foundry.ExitInvalidArgument, "Password is required",
			fmt.Errorf("use --password-stdin, --password or $%s", passwordEnv))
	}
	return authPassword, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	return authenticate(cmd, false)
}

func runRegister(cmd *cobra.Command, args []string) error {
	return authenticate(cmd, true)
}

func authenticate(cmd *cobra.Command, register bool) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	password, err := readPassword(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var user *session.UserProfile
	if register {
		user, err = a.client.RegisterAndAuthenticate(ctx, authEmail, password)
	} else {
		user, err = a.client.Authenticate(ctx, authEmail, password)
	}
	if err != nil {
		action := "Login failed"
		if register {
			action = "Registration failed"
		}
		if apiclient.IsUnauthenticated(err) {
			// A rejected login is bad credentials, not an expired session.
			return exitError(exitFailure, action+": "+apiclient.UserMessage(err), err)
		}
		return apiFailure(action, err)
	}

	a.logger.Info("Logged in", zap.Int64("user_id", user.ID), zap.Int("companies", len(user.Companies)))
	return printWhoami(a, false)
}

func runLogout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	wasLoggedIn := a.store.IsAuthenticated()
	a.store.Logout(cmd.Context())
	if !wasLoggedIn {
		return a.printer.Message("Not logged in.")
	}
	return a.printer.Message("Logged out.")
}

func runWhoami(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.requireLogin(); err != nil {
		return err
	}
	if whoamiRefresh {
		if _, err := a.client.RefreshSession(cmd.Context()); err != nil {
			return apiFailure("Failed to refresh profile", err)
		}
	}
	return printWhoami(a, true)
}

// whoamiView is the rendering of the current session.
type whoamiView struct {
	ID             int64                `json:"id"`
	Email          string               `json:"email"`
	IsActive       bool                 `json:"is_active"`
	ActiveCompany  *session.Membership  `json:"active_company,omitempty"`
	Companies      []session.Membership `json:"companies"`
	TokenExpiresAt *time.Time           `json:"token_expires_at,omitempty"`
	TokenExpired   bool                 `json:"token_expired,omitempty"`
}

func printWhoami(a *app, withToken bool) error {
	snap := a.store.Snapshot()
	if snap.User == nil {
		return exitError(exitFailure, "Not logged in", errors.New("session was cleared"))
	}

	view := whoamiView{
		ID:        snap.User.ID,
		Email:     snap.User.Email,
		IsActive:  snap.User.IsActive,
		Companies: snap.User.Companies,
	}
	if m, ok := snap.ActiveCompany(); ok {
		view.ActiveCompany = &m
	}
	if withToken {
		claims, err := session.TokenClaims(snap.Token)
		if err != nil {
			a.logger.Debug("Token carries no readable claims", zap.Error(err))
		} else if claims.ExpiresAt != nil {
			view.TokenExpiresAt = claims.ExpiresAt
			view.TokenExpired = claims.Expired(time.Now())
		}
	}

	return a.printer.Print(view, func() output.Table {
		t := output.Table{Header: []string{"field", "value"}}
		t.AddRow("user", fmt.Sprintf("%s (id %d)", view.Email, view.ID))
		if view.ActiveCompany != nil {
			t.AddRow("company", fmt.Sprintf("%s (id %d, %s)", view.ActiveCompany.Name, view.ActiveCompany.ID, view.ActiveCompany.Role))
		} else {
			t.AddRow("company", "none; run 'inventoryctl company create <name>'")
		}
		t.AddRow("memberships", len(view.Companies))
		if view.TokenExpiresAt != nil {
			state := "valid"
			if view.TokenExpired {
				state = "expired"
			}
			t.AddRow("token", fmt.Sprintf("%s until %s", state, view.TokenExpiresAt.Format(time.RFC3339)))
		}
		return t
	})
}
