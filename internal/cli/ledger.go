package cli

import (
	"context"
	"fmt"
	"purchase-sync/pkg/sdk/ledger"
	"purchase-sync/pkg/sdk/storage"
	"strings"

	"github.com/spf13/cobra"
)

// LedgerResult lists the ids held in SDK storage.
type LedgerResult struct {
	Processed  []string `json:"processed"`
	Unverified []string `json:"unverified"`
}

func (r LedgerResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "processed (%d):", len(r.Processed))
	for _, id := range r.Processed {
		fmt.Fprintf(&b, "\n  %s", id)
	}
	fmt.Fprintf(&b, "\nunverified (%d):", len(r.Unverified))
	for _, id := range r.Unverified {
		fmt.Fprintf(&b, "\n  %s", id)
	}
	return b.String()
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or reset the local transaction ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List processed and unverified transaction ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerList(cmd.Context(), rootOpts, cmd)
		},
	})

	var unverified bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Forget processed transactions",
		Long: `Forget every processed transaction id. Transactions the platform still
reports will be verified again.

Examples:
  purchasectl ledger reset
  purchasectl ledger reset --unverified`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerReset(cmd.Context(), rootOpts, cmd, unverified)
		},
	}
	reset.Flags().BoolVar(&unverified, "unverified", false, "also clear the unverified list")
	cmd.AddCommand(reset)

	return cmd
}

func runLedgerList(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := storage.Open(opts.clientConfig().StoragePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer store.Close()

	return opts.formatter(cmd).Success(LedgerResult{
		Processed:  ledger.Load(ctx, store, storage.KeyProcessedTransactions).IDs(),
		Unverified: ledger.Load(ctx, store, storage.KeyUnverifiedTransactions).IDs(),
	})
}

func runLedgerReset(ctx context.Context, opts *RootOptions, cmd *cobra.Command, unverified bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := storage.Open(opts.clientConfig().StoragePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer store.Close()

	processed := ledger.Load(ctx, store, storage.KeyProcessedTransactions)
	cleared := processed.Len()
	processed.Replace(ctx, nil)
	if processed.Dirty() {
		return NewExitError(ExitCommandError, "failed to write ledger")
	}

	if unverified {
		pending := ledger.Load(ctx, store, storage.KeyUnverifiedTransactions)
		cleared += pending.Len()
		pending.Replace(ctx, nil)
		if pending.Dirty() {
			return NewExitError(ExitCommandError, "failed to write unverified list")
		}
	}

	return opts.formatter(cmd).Success(fmt.Sprintf("cleared %d transaction ids", cleared))
}
