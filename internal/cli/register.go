package cli

import (
	"context"
	"fmt"
	"os"
	"purchase-sync/pkg/sdk/identity"
	"purchase-sync/pkg/sdk/storage"
	"purchase-sync/pkg/sdk/verifier"

	"github.com/spf13/cobra"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	Device verifier.Device
	Force  bool
}

// RegisterResult is the identity stored in SDK storage.
type RegisterResult struct {
	UserID  string `json:"user_id"`
	Storage string `json:"storage"`
}

func (r RegisterResult) String() string {
	return fmt.Sprintf("user %s (stored in %s)", r.UserID, r.Storage)
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an SDK identity with the verification service",
		Long: `Resolve the SDK user id the same way the SDK does on start-up: the stored
id is reused, otherwise a user is registered and the id is stored.

Examples:
  purchasectl register --device-id test-device
  purchasectl register --force --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd.Context(), opts, cmd)
		},
	}

	hostname, _ := os.Hostname()
	cmd.Flags().StringVar(&opts.Device.DeviceID, "device-id", hostname, "device id sent on registration")
	cmd.Flags().StringVar(&opts.Device.Platform, "platform", "ios", "platform sent on registration")
	cmd.Flags().StringVar(&opts.Device.AppVersion, "app-version", "", "app version sent on registration")
	cmd.Flags().StringVar(&opts.Device.Locale, "locale", "", "locale sent on registration")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "forget the stored id and register again")

	return cmd
}

func runRegister(ctx context.Context, opts *RegisterOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.clientConfig()
	out := opts.formatter(cmd)

	store, err := storage.Open(cfg.StoragePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open storage", err)
	}
	defer store.Close()

	if opts.Force {
		if err := identity.Forget(ctx, store); err != nil {
			return WrapExitError(ExitCommandError, "failed to forget stored user", err)
		}
		out.VerboseLog("Forgot stored user id")
	}

	userID, err := identity.Resolve(ctx, store, newClient(cfg), opts.Device)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register user", err)
	}

	return out.Success(RegisterResult{UserID: userID, Storage: cfg.StoragePath})
}
