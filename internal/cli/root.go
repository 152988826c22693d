// Package cli implements purchasectl, the operator tool that drives the
// purchase SDK from a terminal.
package cli

import (
	"fmt"
	"io"
	"purchase-sync/internal/config"
	"purchase-sync/pkg/logging"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Overrides for the PURCHASES_* environment
	APIURL      string
	ProjectID   string
	APIKey      string
	StoragePath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for purchasectl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "purchasectl",
		Short: "Drive the purchase SDK from a terminal",
		Long: `purchasectl registers an SDK identity, verifies receipts against the
verification service, inspects the local transaction ledger and replays
transaction batches through the reconciler.

Settings come from PURCHASES_* environment variables (or .env) and can be
overridden with the global flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			var out io.Writer = io.Discard
			if opts.Verbose {
				out = cmd.ErrOrStderr()
			}
			logging.InitLoggingWithOutput(out, cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.APIURL, "api-url", "", "verification service URL (PURCHASES_API_URL)")
	cmd.PersistentFlags().StringVar(&opts.ProjectID, "project", "", "project id (PURCHASES_PROJECT_ID)")
	cmd.PersistentFlags().StringVar(&opts.APIKey, "api-key", "", "project API key (PURCHASES_API_KEY)")
	cmd.PersistentFlags().StringVar(&opts.StoragePath, "storage", "", "SDK storage file (PURCHASES_STORAGE_PATH)")

	// Add subcommands
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}

// clientConfig loads the SDK settings and applies flag overrides.
func (o *RootOptions) clientConfig() *config.ClientConfig {
	cfg := config.LoadClientConfig()
	if o.APIURL != "" {
		cfg.APIURL = o.APIURL
	}
	if o.ProjectID != "" {
		cfg.ProjectID = o.ProjectID
	}
	if o.APIKey != "" {
		cfg.APIKey = o.APIKey
	}
	if o.StoragePath != "" {
		cfg.StoragePath = o.StoragePath
	}
	return cfg
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
