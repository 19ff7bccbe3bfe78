package cmd

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teemow/edulab/internal/google"
	"github.com/teemow/edulab/internal/messages"
)

func newLoginCmd() *cobra.Command {
	var cfg ClientConfig

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with your Google account",
		Long: `Open the Google consent page in your browser and store the resulting
session. Only accounts from the allowed domains can sign in.

Requires GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET (or the matching flags)
of an OAuth client of type "Desktop app".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadClientEnvVars(&cfg)
			if cfg.GoogleClientID == "" {
				return errors.New("a Google OAuth client ID is required (--google-client-id or GOOGLE_CLIENT_ID)")
			}

			app, err := newClientApp(cmd.Context(), cfg, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer app.Close()

			pterm.Info.Println("Opening your browser to sign in with Google...")
			sess, err := app.oauth.SignIn(cmd.Context())
			if err != nil {
				if google.IsAuthError(err, google.CodeDomainDenied) {
					pterm.Error.Println("This account is not allowed to use edulab.")
				}
				return err
			}

			name := sess.Email
			if sess.DisplayName != "" {
				name = fmt.Sprintf("%s (%s)", sess.DisplayName, sess.Email)
			}
			pterm.Success.Printfln("Signed in as %s", name)
			return nil
		},
	}

	addClientFlags(cmd, &cfg)
	cmd.Flags().StringVar(&cfg.GoogleClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&cfg.GoogleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	cmd.Flags().StringSliceVar(&cfg.AllowedDomains, "allowed-domains", nil, "Email domains allowed to sign in (comma-separated). Can also use ALLOWED_DOMAINS env var.")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	var cfg ClientConfig

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and revoke the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newClientApp(cmd.Context(), cfg, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer app.Close()

			if app.oauth.CurrentUser() == nil {
				pterm.Info.Println("Not signed in")
				return nil
			}
			if err := app.oauth.SignOut(cmd.Context()); err != nil {
				return fmt.Errorf("failed to sign out: %w", err)
			}
			pterm.Success.Println("Signed out")
			return nil
		},
	}

	addClientFlags(cmd, &cfg)
	return cmd
}

func newStatusCmd() *cobra.Command {
	var cfg ClientConfig

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show who is signed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newClientApp(cmd.Context(), cfg, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := messages.Send[messages.CheckAuth, messages.AuthStatus](cmd.Context(), app.bus, messages.KindCheckAuth, messages.CheckAuth{})
			if err != nil {
				return err
			}
			printAuthStatus(status, app.api.BaseURL, app.language())
			return nil
		},
	}

	addClientFlags(cmd, &cfg)
	return cmd
}

func printAuthStatus(status messages.AuthStatus, backendURL, language string) {
	signedIn := pterm.Red("not signed in")
	if status.Authenticated {
		signedIn = pterm.Green(status.Email)
		if status.Name != "" {
			signedIn += " (" + status.Name + ")"
		}
	}
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Account", signedIn},
		{"Backend", backendURL},
		{"Language", language},
	}).Render()
}
