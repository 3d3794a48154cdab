package cmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"vidmigrate/youtube"
)

var authCode string

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize uploads to the YouTube channel",
	Long: `Auth runs the one-time OAuth consent for the channel that receives the
videos. Open the printed URL, approve access and paste the code back.
The token is stored in youtube.token_file and refreshed automatically.

Examples:
  vidmigrate auth
  vidmigrate auth --code 4/0AX4XfW...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(config.Log.Quiet)
		defer cancel()

		oauthConfig, err := youtube.LoadOAuthConfig(config.YouTube.ClientSecrets)
		if err != nil {
			return err
		}

		code := strings.TrimSpace(authCode)
		if code == "" {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "🔑 Open this URL in a browser and approve access:\n\n%s\n\n", youtube.AuthCodeURL(oauthConfig, "vidmigrate"))
			fmt.Fprint(out, "Authorization code: ")

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read authorization code: %w", err)
			}
			code = strings.TrimSpace(line)
		}

		httpClient, err := newHTTPClient(config)
		if err != nil {
			return err
		}
		exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, baseClient(httpClient))

		token, err := youtube.Exchange(exchangeCtx, oauthConfig, youtube.NewTokenStore(config.YouTube.TokenFile), code)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✅ Token saved to %s (refresh token: %v)\n",
			config.YouTube.TokenFile, token.RefreshToken != "")
		return nil
	},
}

func init() {
	authCmd.Flags().StringVar(&authCode, "code", "", "Authorization code, skips the interactive prompt")
}
