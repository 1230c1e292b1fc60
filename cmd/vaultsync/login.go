package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/quietloop/vaultsync/internal/cloudapi"
	"github.com/quietloop/vaultsync/internal/config"
)

// Client registration for the remote vault's authorization server.
// Environment-driven so one binary works against any backend; the login
// command's flags override.
const (
	envClientID = "VAULTSYNC_CLIENT_ID"
	envAuthURL  = "VAULTSYNC_AUTH_URL"
	envTokenURL = "VAULTSYNC_TOKEN_URL"
	envScopes   = "VAULTSYNC_SCOPES"
)

func authConfigFromEnv() cloudapi.AuthConfig {
	scopes := []string{"vault.readwrite", "offline_access"}
	if raw := os.Getenv(envScopes); raw != "" {
		scopes = strings.Fields(raw)
	}
	return cloudapi.AuthConfig{
		ClientID: os.Getenv(envClientID),
		Endpoint: oauth2.Endpoint{
			AuthURL:  os.Getenv(envAuthURL),
			TokenURL: os.Getenv(envTokenURL),
		},
		Scopes: scopes,
	}
}

func newLoginCmd() *cobra.Command {
	var flagClientID, flagAuthURL, flagTokenURL string
	var flagScopes []string

	cmd := &cobra.Command{
		Use:         "login",
		Short:       "Authenticate against the remote vault",
		Long:        "Run the OAuth2 authorization-code + PKCE flow against a localhost callback and persist the resulting token.",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			auth := authConfigFromEnv()
			if flagClientID != "" {
				auth.ClientID = flagClientID
			}
			if flagAuthURL != "" {
				auth.Endpoint.AuthURL = flagAuthURL
			}
			if flagTokenURL != "" {
				auth.Endpoint.TokenURL = flagTokenURL
			}
			if len(flagScopes) > 0 {
				auth.Scopes = flagScopes
			}
			if auth.ClientID == "" || auth.Endpoint.AuthURL == "" || auth.Endpoint.TokenURL == "" {
				return fmt.Errorf("client registration incomplete: set %s, %s, and %s (or the matching flags)",
					envClientID, envAuthURL, envTokenURL)
			}

			if err := os.MkdirAll(config.DefaultDataDir(), 0o700); err != nil {
				return fmt.Errorf("preparing data directory: %w", err)
			}

			logger := buildLogger(config.DefaultConfig())
			_, err := cloudapi.Login(cmd.Context(), auth, tokenPath(), openBrowser, logger)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			statusf("Logged in. Token saved to %s\n", tokenPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&flagClientID, "client-id", "", "OAuth2 client ID")
	cmd.Flags().StringVar(&flagAuthURL, "auth-url", "", "authorization endpoint URL")
	cmd.Flags().StringVar(&flagTokenURL, "token-url", "", "token endpoint URL")
	cmd.Flags().StringSliceVar(&flagScopes, "scope", nil, "OAuth2 scopes (repeatable)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Remove the saved authentication token",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			logger := buildLogger(config.DefaultConfig())
			if err := cloudapi.Logout(tokenPath(), logger); err != nil {
				return err
			}
			statusf("Logged out.\n")
			return nil
		},
	}
}

// openBrowser launches the platform browser for the authorization URL.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
