// Package sdk is the host-facing purchase SDK. A host builds one *SDK with
// Configure, wires its platform payment queue to Observer, and drives
// purchases through the returned handle.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"purchase-sync/internal/config"
	"purchase-sync/pkg/logging"
	"purchase-sync/pkg/sdk/hooks"
	"purchase-sync/pkg/sdk/identity"
	"purchase-sync/pkg/sdk/intent"
	"purchase-sync/pkg/sdk/ledger"
	"purchase-sync/pkg/sdk/reconciler"
	"purchase-sync/pkg/sdk/storage"
	"purchase-sync/pkg/sdk/storekit"
	"purchase-sync/pkg/sdk/verifier"
	"time"
)

// Client is the verification service API the SDK uses.
type Client interface {
	identity.Registrar
	reconciler.Verifier
}

// Options are the host-provided collaborators.
type Options struct {
	// Config defaults to config.LoadClientConfig().
	Config *config.ClientConfig
	// Queue and Receipts are the platform bindings. Both are required.
	Queue    storekit.PaymentQueue
	Receipts storekit.ReceiptSource
	// Device is sent when the user is registered for the first time.
	Device verifier.Device
	// Store defaults to a sqlite file at Config.StoragePath.
	Store storage.Store
	// Client defaults to a verifier.Client for Config.APIURL.
	Client Client
}

// SDK is a configured purchase SDK.
type SDK struct {
	cfg      *config.ClientConfig
	userID   string
	store    storage.Store
	owned    io.Closer
	observer *storekit.Observer
	rec      *reconciler.Reconciler
	hooks    *hooks.Hooks

	cancel context.CancelFunc
	done   chan error
}

// Configure resolves the user identity, loads the ledger and starts the
// reconciler. Transactions delivered to Observer before Configure returns
// are left on the platform queue.
func Configure(ctx context.Context, opts Options) (*SDK, error) {
	if opts.Queue == nil || opts.Receipts == nil {
		return nil, errors.New("payment queue and receipt source are required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.LoadClientConfig()
	}

	s := &SDK{cfg: cfg, store: opts.Store, hooks: hooks.New()}
	if s.store == nil {
		gs, err := storage.Open(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		s.store = gs
		s.owned = gs
	}

	client := opts.Client
	if client == nil {
		client = verifier.New(verifier.Options{
			BaseURL:    cfg.APIURL,
			ProjectID:  cfg.ProjectID,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.HTTPTimeout,
			RetryDelay: cfg.RetryDelay,
		})
	}

	userID, err := identity.Resolve(ctx, s.store, client, opts.Device)
	if err != nil {
		s.closeStore()
		return nil, err
	}
	s.userID = userID

	s.rec = reconciler.New(reconciler.Config{
		UserID:       userID,
		MaxRetries:   cfg.MaxRetries,
		SuccessDelay: cfg.SuccessDelay,
	}, reconciler.Deps{
		Queue:      opts.Queue,
		Receipts:   opts.Receipts,
		Verifier:   client,
		Processed:  ledger.Load(ctx, s.store, storage.KeyProcessedTransactions),
		Unverified: ledger.Load(ctx, s.store, storage.KeyUnverifiedTransactions),
		Hooks:      s.hooks,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- s.rec.Run(runCtx) }()

	s.observer = storekit.NewObserver(s.rec)
	logging.Infof("Purchase SDK configured - user: %s, api: %s", userID, cfg.APIURL)
	return s, nil
}

// Observer is what the platform payment queue reports to.
func (s *SDK) Observer() *storekit.Observer {
	return s.observer
}

// UserID returns the server-side user id.
func (s *SDK) UserID() string {
	return s.userID
}

// Purchase buys productID on behalf of source and waits for the outcome.
func (s *SDK) Purchase(ctx context.Context, productID string, source intent.Source) (*reconciler.PurchaseResult, error) {
	return s.rec.Purchase(ctx, productID, source)
}

// RestorePurchase restores completed transactions and returns the newly
// granted products.
func (s *SDK) RestorePurchase(ctx context.Context) ([]string, error) {
	return s.rec.Restore(ctx)
}

// VerifySubscriptions verifies the current receipt on demand.
func (s *SDK) VerifySubscriptions(ctx context.Context) (*verifier.Result, error) {
	return s.rec.VerifySubscriptions(ctx)
}

// BecameActive is called when the host app returns to the foreground.
func (s *SDK) BecameActive(ctx context.Context) (*verifier.Status, error) {
	return s.rec.Recheck(ctx)
}

// ResetLedger forgets every processed transaction.
func (s *SDK) ResetLedger(ctx context.Context) error {
	return s.rec.Reset(ctx)
}

// ProcessedTransactions lists the granted transaction ids.
func (s *SDK) ProcessedTransactions(ctx context.Context) ([]string, error) {
	return s.rec.Processed(ctx)
}

// UnverifiedTransactions lists transaction ids waiting for re-verification.
func (s *SDK) UnverifiedTransactions(ctx context.Context) ([]string, error) {
	return s.rec.Unverified(ctx)
}

// Sync waits until pending work and callbacks have been delivered.
func (s *SDK) Sync(ctx context.Context) error {
	return s.rec.Drain(ctx)
}

// OnPurchase registers fn for newly granted purchases.
func (s *SDK) OnPurchase(fn func(hooks.Purchase)) (unsubscribe func()) {
	return s.hooks.Purchase.Subscribe(fn)
}

// OnRestorePurchases registers fn for restored products, once per batch.
func (s *SDK) OnRestorePurchases(fn func(productIDs []string)) (unsubscribe func()) {
	return s.hooks.Restore.Subscribe(func(r hooks.Restore) { fn(r.ProductIDs) })
}

// OnError registers fn for every reported failure.
func (s *SDK) OnError(fn func(error)) (unsubscribe func()) {
	return s.hooks.Error.Subscribe(fn)
}

// OnSuccessfulPurchase registers fn called after a granted purchase.
func (s *SDK) OnSuccessfulPurchase(fn func()) (unsubscribe func()) {
	return s.hooks.SuccessfulPurchase.Subscribe(func(struct{}) { fn() })
}

// OnEvent registers fn for analytics events.
func (s *SDK) OnEvent(fn func(hooks.Event)) (unsubscribe func()) {
	return s.hooks.Event.Subscribe(fn)
}

// Close detaches the observer and stops the reconciler. Transactions still
// being verified stay on the platform queue.
func (s *SDK) Close() error {
	s.observer.Attach(nil)
	s.cancel()

	var err error
	select {
	case err = <-s.done:
	case <-time.After(10 * time.Second):
		err = fmt.Errorf("timed out stopping reconciler")
	}
	if cerr := s.closeStore(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *SDK) closeStore() error {
	if s.owned == nil {
		return nil
	}
	err := s.owned.Close()
	s.owned = nil
	return err
}
