package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// StatusResult is the user's subscription state.
type StatusResult struct {
	UserID    string `json:"user_id"`
	Active    bool   `json:"active"`
	Status    string `json:"status"`
	ProductID string `json:"product_id,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (r StatusResult) String() string {
	s := fmt.Sprintf("user %s: %s", r.UserID, r.Status)
	if r.ProductID != "" {
		s += fmt.Sprintf(", product %s", r.ProductID)
	}
	if r.ExpiresAt != "" {
		s += fmt.Sprintf(", expires %s", r.ExpiresAt)
	}
	return s
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the registered user's subscription status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.clientConfig()

	userID, err := storedUserID(ctx, cfg)
	if err != nil {
		return err
	}

	status, err := newClient(cfg).Status(ctx, userID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to get status", err)
	}

	return opts.formatter(cmd).Success(StatusResult{
		UserID:    userID,
		Active:    status.Active,
		Status:    status.Status,
		ProductID: status.ProductID,
		ExpiresAt: status.ExpiresAt,
	})
}
