package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vidmigrate/internal"
	"vidmigrate/utils"
)

var (
	signMethod string
	signExpiry time.Duration
)

var signCmd = &cobra.Command{
	Use:   "sign <OBJECT_PATH>",
	Short: "Print a temp URL for an object in the container",
	Long: `Sign prints a time-limited URL for an object path relative to the
configured container, or for a full URL inside it.

Examples:
  vidmigrate sign /shiurim/lesson.mp4
  vidmigrate sign shiurim/lesson.mp4 --expiry 24h --method HEAD`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if config.Storage.TempURLKey == "" {
			return internal.NewValidationError("storage.temp_url_key", "temp URL key is required").
				WithSuggestion("Set storage.temp_url_key or VIDMIGRATE_STORAGE_TEMP_URL_KEY")
		}

		loc, err := utils.ResolveLocator(args[0], config.Storage.BaseURL)
		if err != nil {
			return err
		}
		if loc.External() {
			return internal.NewValidationErrorWithValue("object_path", "URL is outside the configured container", args[0])
		}

		gen, err := newSigner(config)
		if err != nil {
			return err
		}
		if signExpiry > 0 {
			gen.Expiry = signExpiry
		}

		signed, err := gen.Sign(strings.ToUpper(signMethod), loc.ObjectPath)
		if err != nil {
			return err
		}
		internal.LogInfo("Signed %s for %v", loc.ObjectPath, gen.Expiry)

		fmt.Fprintln(cmd.OutOrStdout(), signed.String())
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signMethod, "method", "GET", "HTTP method the URL authorizes")
	signCmd.Flags().DurationVar(&signExpiry, "expiry", 0, "URL lifetime (default storage.temp_url_expiry)")
}
