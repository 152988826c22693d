// Package identity resolves the server-side user id, registering the device
// the first time and reusing the stored id afterwards.
package identity

import (
	"context"
	"fmt"
	"purchase-sync/pkg/logging"
	"purchase-sync/pkg/sdk/storage"
	"purchase-sync/pkg/sdk/verifier"
)

// Registrar creates a server-side user.
type Registrar interface {
	Register(ctx context.Context, device verifier.Device) (string, error)
}

// Resolve returns the stored user id or registers device and stores the new id.
func Resolve(ctx context.Context, store storage.Store, registrar Registrar, device verifier.Device) (string, error) {
	raw, err := store.Get(ctx, storage.KeyUserID)
	if err != nil {
		logging.Warnf("Failed to read stored user id, registering again: %v", err)
	} else if len(raw) > 0 {
		return string(raw), nil
	}

	userID, err := registrar.Register(ctx, device)
	if err != nil {
		return "", fmt.Errorf("register user: %w", err)
	}
	if err := store.Set(ctx, storage.KeyUserID, []byte(userID)); err != nil {
		// The id is still usable for this session.
		logging.Errorf("Failed to store user id %s: %v", userID, err)
	}

	logging.Infof("Registered user %s for device %s", userID, device.DeviceID)
	return userID, nil
}

// Forget removes the stored user id.
func Forget(ctx context.Context, store storage.Store) error {
	return store.Delete(ctx, storage.KeyUserID)
}
