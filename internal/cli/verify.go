package cli

import (
	"context"
	"fmt"
	"os"
	"purchase-sync/internal/config"
	"purchase-sync/pkg/sdk/intent"
	"purchase-sync/pkg/sdk/storage"
	"purchase-sync/pkg/sdk/verifier"

	"github.com/spf13/cobra"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	ScreenID string
}

// VerifyResult is the verification service's answer for one receipt.
type VerifyResult struct {
	UserID string `json:"user_id"`
	ID     string `json:"id"`
	Active bool   `json:"active"`
	Status string `json:"status,omitempty"`
}

func (r VerifyResult) String() string {
	if !r.Active {
		return fmt.Sprintf("declined (status: %s)", r.Status)
	}
	return fmt.Sprintf("active, remote id %s (status: %s)", r.ID, r.Status)
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify RECEIPT_FILE",
		Short: "Verify a receipt file for the registered user",
		Long: `Send a raw receipt (app receipt or signed transaction) to the
verification service, retrying transient failures like the SDK does.

Exit codes:
  0 - Receipt is active
  1 - Receipt was declined
  2 - Command error

Examples:
  purchasectl verify ./receipt.bin
  purchasectl verify ./receipt.bin --screen-id paywall --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.ScreenID, "screen-id", "", "screen the purchase is attributed to")

	return cmd
}

func runVerify(ctx context.Context, opts *VerifyOptions, cmd *cobra.Command, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.clientConfig()

	receipt, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read receipt", err)
	}

	userID, err := storedUserID(ctx, cfg)
	if err != nil {
		return err
	}

	var source *intent.Source
	if opts.ScreenID != "" {
		source = &intent.Source{ScreenID: opts.ScreenID}
	}
	result, err := newClient(cfg).Verify(ctx, userID, receipt, source, cfg.MaxRetries)
	if err != nil {
		return WrapExitError(ExitCommandError, "verification failed", err)
	}

	if err := opts.formatter(cmd).Success(VerifyResult{
		UserID: userID,
		ID:     result.RemoteTransactionID,
		Active: result.Active,
		Status: result.TransactionStatus,
	}); err != nil {
		return err
	}
	if !result.Active {
		return NewExitError(ExitFailure, "receipt declined")
	}
	return nil
}

// storedUserID reads the identity written by register.
func storedUserID(ctx context.Context, cfg *config.ClientConfig) (string, error) {
	store, err := storage.Open(cfg.StoragePath)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer store.Close()

	raw, err := store.Get(ctx, storage.KeyUserID)
	if err != nil {
		return "", WrapExitError(ExitCommandError, "failed to read user id", err)
	}
	if len(raw) == 0 {
		return "", NewExitError(ExitCommandError, "no registered user, run purchasectl register first")
	}
	return string(raw), nil
}

func newClient(cfg *config.ClientConfig) *verifier.Client {
	return verifier.New(verifier.Options{
		BaseURL:    cfg.APIURL,
		ProjectID:  cfg.ProjectID,
		APIKey:     cfg.APIKey,
		Timeout:    cfg.HTTPTimeout,
		RetryDelay: cfg.RetryDelay,
	})
}
