// Package reconciler decides what happens to every transaction the payment
// queue reports: skip it as already granted, verify it with the server, grant
// it, or report it as failed, and finish it on the platform exactly once.
//
// All state lives on one serialized loop started by Run. Platform callbacks and
// public calls only enqueue work onto that loop; network verification runs on
// its own goroutine and posts its result back. Host callbacks are delivered in
// order on a second loop so a listener can call back into the reconciler.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"purchase-sync/pkg/logging"
	"purchase-sync/pkg/sdk/hooks"
	"purchase-sync/pkg/sdk/intent"
	"purchase-sync/pkg/sdk/internal/serial"
	"purchase-sync/pkg/sdk/ledger"
	"purchase-sync/pkg/sdk/storekit"
	"purchase-sync/pkg/sdk/verifier"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Verifier is the part of the verification client the reconciler needs.
type Verifier interface {
	Verify(ctx context.Context, userID string, receipt []byte, source *intent.Source, maxRetries int) (*verifier.Result, error)
	Status(ctx context.Context, userID string) (*verifier.Status, error)
}

// Config tunes a Reconciler.
type Config struct {
	UserID     string
	MaxRetries int
	// SuccessDelay postpones the successful-purchase notification.
	SuccessDelay time.Duration
}

// Deps are the collaborators a Reconciler drives.
type Deps struct {
	Queue      storekit.PaymentQueue
	Receipts   storekit.ReceiptSource
	Verifier   Verifier
	Processed  *ledger.Ledger
	Unverified *ledger.Ledger
	Hooks      *hooks.Hooks
}

// Outcome is the terminal result of one transaction.
type Outcome int

const (
	OutcomeGranted Outcome = iota + 1
	OutcomeDeclined
	OutcomeDuplicate
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeGranted:
		return "granted"
	case OutcomeDeclined:
		return "declined"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// PurchaseResult is what an explicit Purchase call resolves to.
type PurchaseResult struct {
	TransactionID string
	ProductID     string
	Outcome       Outcome
	Result        *verifier.Result
	Source        intent.Source
}

type purchaseOutcome struct {
	result *PurchaseResult
	err    error
}

type pendingPurchase struct {
	key       string
	productID string
	done      chan purchaseOutcome
}

type restoreOutcome struct {
	products []string
	err      error
}

type pendingRestore struct {
	products []string
	finished bool
	err      error
	done     chan restoreOutcome
}

// work is a record of one delivery waiting for the delivery's verification.
type work struct {
	txn    storekit.Transaction
	key    string
	source *intent.Source
}

// batch tracks the restored records of one delivery so they are reported
// together once all of them settle.
type batch struct {
	pending int
	granted []string
	sealed  bool
	settled bool
}

// Reconciler implements storekit.Handler.
type Reconciler struct {
	cfg        Config
	queue      storekit.PaymentQueue
	receipts   storekit.ReceiptSource
	verifier   Verifier
	processed  *ledger.Ledger
	unverified *ledger.Ledger
	hooks      *hooks.Hooks
	intents    *intent.Tracker

	loop   *serial.Queue
	events *serial.Queue

	// Holds one token while a receipt is being verified.
	verifying chan struct{}

	// Set once by Run before the loop starts.
	runCtx   context.Context
	storeCtx context.Context

	// Loop-owned state.
	inflight map[string]struct{}
	purchase *pendingPurchase
	restore  *pendingRestore
	batches  map[*batch]struct{}

	wg sync.WaitGroup
}

// New creates a reconciler. Nothing is processed until Run is called.
func New(cfg Config, deps Deps) *Reconciler {
	h := deps.Hooks
	if h == nil {
		h = hooks.New()
	}
	return &Reconciler{
		cfg:        cfg,
		queue:      deps.Queue,
		receipts:   deps.Receipts,
		verifier:   deps.Verifier,
		processed:  deps.Processed,
		unverified: deps.Unverified,
		hooks:      h,
		intents:    intent.NewTracker(),
		loop:       serial.New(),
		events:     serial.New(),
		verifying:  make(chan struct{}, 1),
		inflight:   make(map[string]struct{}),
		batches:    make(map[*batch]struct{}),
	}
}

// Hooks returns the registries the reconciler emits to.
func (r *Reconciler) Hooks() *hooks.Hooks {
	return r.hooks
}

// Run processes work until ctx is done. Records whose verification is still
// running at that point stay unfinished and are redelivered by the platform.
func (r *Reconciler) Run(ctx context.Context) error {
	r.runCtx = ctx
	r.storeCtx = context.WithoutCancel(ctx)

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		_ = r.events.Run(context.Background())
	}()

	err := r.loop.Run(ctx)
	r.wg.Wait()
	r.events.Close()
	<-eventsDone

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleTransactions enqueues a platform batch. It never blocks.
func (r *Reconciler) HandleTransactions(txns []storekit.Transaction) {
	if !r.loop.Enqueue(func() { r.processBatch(txns) }) {
		logging.Warnf("Reconciler stopped, leaving %d transactions on the queue", len(txns))
	}
}

// HandleRestoreFinished enqueues the end of a restore request.
func (r *Reconciler) HandleRestoreFinished(err error) {
	r.loop.Enqueue(func() { r.restoreFinished(err) })
}

func (r *Reconciler) processBatch(txns []storekit.Transaction) {
	b := &batch{}
	var items []work
	for _, txn := range txns {
		switch txn.State {
		case storekit.StatePurchasing, storekit.StateDeferred:
			logging.Debugf("Transaction %s for %s is %s, waiting", txn.ID, txn.ProductID, txn.State)
		case storekit.StateFailed:
			r.fail(txn)
		case storekit.StatePurchased, storekit.StateRestored:
			if w, ok := r.reconcile(txn, b); ok {
				items = append(items, w)
			}
		default:
			logging.Warnf("Ignoring transaction %s in unknown state %s", txn.ID, txn.State)
		}
	}
	b.sealed = true
	if len(items) > 0 {
		r.verifyBatch(items, b)
	}
	r.settleBatch(b)
}

// reconcile settles records that need no verification and returns the work
// for the ones that do.
func (r *Reconciler) reconcile(txn storekit.Transaction, b *batch) (work, bool) {
	if _, busy := r.inflight[txn.ID]; busy {
		logging.Debugf("Transaction %s already being verified", txn.ID)
		return work{}, false
	}

	if r.processed.Contains(txn.ID) || r.processed.Contains(txn.OriginalID()) {
		logging.Infof("Transaction %s for %s already granted, finishing", txn.ID, txn.ProductID)
		r.finish(txn)
		key := ""
		if txn.State == storekit.StatePurchased {
			key = r.dropIntent(txn)
		}
		r.emitEvent(hooks.EventDuplicateSkipped, txn, nil)
		r.resolvePurchase(txn, key, &PurchaseResult{
			TransactionID: txn.ID,
			ProductID:     txn.ProductID,
			Outcome:       OutcomeDuplicate,
			Source:        intent.DefaultSource,
		}, nil)
		return work{}, false
	}

	r.inflight[txn.ID] = struct{}{}

	key := ""
	var source *intent.Source
	if txn.State == storekit.StatePurchased {
		if k, src, ok := r.intents.Resolve(txn.PaymentKey, txn.ProductID); ok {
			key = k
			source = &src
		}
	} else {
		b.pending++
		r.batches[b] = struct{}{}
	}
	return work{txn: txn, key: key, source: source}, true
}

// verifyBatch verifies the receipt once for all records of one delivery and
// settles each of them with that answer. The receipt covers every record.
func (r *Reconciler) verifyBatch(items []work, b *batch) {
	var source *intent.Source
	for _, w := range items {
		if w.source != nil {
			source = w.source
			break
		}
	}

	ctx := r.runCtx
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		result, err := r.verify(ctx, source)
		settled := r.loop.Enqueue(func() {
			for _, w := range items {
				r.settle(w.txn, w.key, w.source, result, err, b)
			}
		})
		if !settled {
			logging.Warnf("Reconciler stopped, %d transactions stay on the queue", len(items))
		}
	}()
}

// verify sends the current receipt to the server. Calls are serialized: the
// server rejects a receipt that is already being verified for the user.
func (r *Reconciler) verify(ctx context.Context, source *intent.Source) (*verifier.Result, error) {
	select {
	case r.verifying <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.verifying }()

	receipt, err := r.receipts.Receipt(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", verifier.ErrMissingReceipt, err)
	}
	if len(receipt) == 0 {
		return nil, verifier.ErrMissingReceipt
	}
	return r.verifier.Verify(ctx, r.cfg.UserID, receipt, source, r.cfg.MaxRetries)
}

func (r *Reconciler) settle(txn storekit.Transaction, key string, source *intent.Source, result *verifier.Result, err error, b *batch) {
	delete(r.inflight, txn.ID)
	if r.runCtx.Err() != nil {
		// Shutting down: leave the record for redelivery.
		return
	}

	if key != "" {
		r.intents.Remove(key)
	}
	src := intent.DefaultSource
	if source != nil {
		src = *source
	}
	restored := txn.State == storekit.StateRestored

	if err == nil && result != nil && result.Active {
		// The ledger write must land before the platform forgets the record.
		r.processed.Insert(r.storeCtx, txn.ID, txn.OriginalID())
		r.unverified.Remove(r.storeCtx, txn.ID)
		r.finish(txn)

		logging.Infof("Transaction %s for %s granted, remote id: %s", txn.ID, txn.ProductID, result.RemoteTransactionID)
		if restored {
			b.granted = append(b.granted, txn.ProductID)
		} else {
			purchase := hooks.Purchase{
				ProductID:           txn.ProductID,
				TransactionID:       txn.ID,
				RemoteTransactionID: result.RemoteTransactionID,
				Source:              src,
			}
			r.emit(func() { r.hooks.Purchase.Emit(purchase) })
			r.emitEvent(hooks.EventPurchaseSuccess, txn, &src)
			r.successfulPurchase()
		}
		r.resolvePurchase(txn, key, &PurchaseResult{
			TransactionID: txn.ID,
			ProductID:     txn.ProductID,
			Outcome:       OutcomeGranted,
			Result:        result,
			Source:        src,
		}, nil)
	} else {
		var reported error
		if err != nil {
			reported = &TransactionError{TransactionID: txn.ID, ProductID: txn.ProductID, Op: "verify", Err: err}
			if recoverable(err) {
				r.unverified.Put(r.storeCtx, txn.ID, ledger.Entry{
					ProductID:  txn.ProductID,
					OriginalID: txn.OriginalID(),
					Restored:   restored,
				})
				logging.Warnf("Transaction %s could not be verified, kept for re-verification: %v", txn.ID, err)
			} else {
				logging.Errorf("Transaction %s verification failed: %v", txn.ID, err)
			}
			r.emitEvent(hooks.EventPurchaseFailed, txn, &src)
		} else {
			reported = &DeclinedError{TransactionID: txn.ID, ProductID: txn.ProductID, Result: result}
			r.unverified.Remove(r.storeCtx, txn.ID)
			logging.Warnf("Transaction %s for %s declined by server", txn.ID, txn.ProductID)
			r.emitEvent(hooks.EventPurchaseDeclined, txn, &src)
		}
		r.finish(txn)
		r.emit(func() { r.hooks.Error.Emit(reported) })
		r.resolvePurchase(txn, key, &PurchaseResult{
			TransactionID: txn.ID,
			ProductID:     txn.ProductID,
			Outcome:       OutcomeDeclined,
			Result:        result,
			Source:        src,
		}, reported)
	}

	if restored {
		b.pending--
		r.settleBatch(b)
	}
}

func (r *Reconciler) fail(txn storekit.Transaction) {
	r.finish(txn)
	key := r.dropIntent(txn)

	cause := txn.Err
	if cause == nil {
		cause = ErrPurchaseFailed
	}
	reported := &TransactionError{TransactionID: txn.ID, ProductID: txn.ProductID, Op: "purchase", Err: cause}
	logging.Warnf("Transaction %s for %s failed on the platform: %v", txn.ID, txn.ProductID, cause)

	r.emit(func() { r.hooks.Error.Emit(reported) })
	r.emitEvent(hooks.EventPurchaseFailed, txn, nil)
	r.resolvePurchase(txn, key, &PurchaseResult{
		TransactionID: txn.ID,
		ProductID:     txn.ProductID,
		Outcome:       OutcomeFailed,
		Source:        intent.DefaultSource,
	}, reported)
}

func (r *Reconciler) finish(txn storekit.Transaction) {
	if err := r.queue.Finish(r.storeCtx, txn); err != nil {
		logging.Errorf("Failed to finish transaction %s: %v", txn.ID, err)
		reported := &TransactionError{TransactionID: txn.ID, ProductID: txn.ProductID, Op: "finish", Err: err}
		r.emit(func() { r.hooks.Error.Emit(reported) })
	}
}

func (r *Reconciler) dropIntent(txn storekit.Transaction) string {
	key, _, ok := r.intents.Resolve(txn.PaymentKey, txn.ProductID)
	if !ok {
		return ""
	}
	r.intents.Remove(key)
	return key
}

func (r *Reconciler) resolvePurchase(txn storekit.Transaction, key string, result *PurchaseResult, err error) {
	p := r.purchase
	if p == nil || txn.State == storekit.StateRestored {
		return
	}
	matched := (key != "" && key == p.key) ||
		txn.PaymentKey == p.key ||
		(key == "" && txn.PaymentKey == "" && txn.ProductID == p.productID)
	if !matched {
		return
	}
	r.purchase = nil
	p.done <- purchaseOutcome{result: result, err: err}
}

func (r *Reconciler) settleBatch(b *batch) {
	if !b.sealed || b.pending > 0 || b.settled {
		return
	}
	b.settled = true
	delete(r.batches, b)

	if len(b.granted) > 0 {
		products := unique(b.granted)
		logging.Infof("Restored %d products: %v", len(products), products)
		r.emit(func() { r.hooks.Restore.Emit(hooks.Restore{ProductIDs: products}) })
		r.emit(func() {
			r.hooks.Event.Emit(hooks.Event{
				Name:   hooks.EventRestoreSuccess,
				Params: map[string]string{"count": fmt.Sprint(len(products))},
			})
		})
		if r.restore != nil {
			r.restore.products = append(r.restore.products, products...)
		}
	}
	r.checkRestoreDone()
}

func (r *Reconciler) restoreFinished(err error) {
	if err != nil {
		logging.Errorf("Restore failed: %v", err)
		reported := fmt.Errorf("restore purchases: %w", err)
		r.emit(func() { r.hooks.Error.Emit(reported) })
	}
	if r.restore == nil {
		return
	}
	r.restore.finished = true
	r.restore.err = err
	r.checkRestoreDone()
}

func (r *Reconciler) checkRestoreDone() {
	p := r.restore
	if p == nil || !p.finished || len(r.batches) > 0 {
		return
	}
	r.restore = nil
	p.done <- restoreOutcome{products: p.products, err: p.err}
}

func (r *Reconciler) successfulPurchase() {
	if r.cfg.SuccessDelay <= 0 {
		r.emit(func() { r.hooks.SuccessfulPurchase.Emit(struct{}{}) })
		return
	}
	time.AfterFunc(r.cfg.SuccessDelay, func() {
		r.emit(func() { r.hooks.SuccessfulPurchase.Emit(struct{}{}) })
	})
}

func (r *Reconciler) emit(fn func()) {
	if !r.events.Enqueue(fn) {
		logging.Debugf("Event loop closed, dropping callback")
	}
}

func (r *Reconciler) emitEvent(name string, txn storekit.Transaction, src *intent.Source) {
	params := map[string]string{
		"product_id":     txn.ProductID,
		"transaction_id": txn.ID,
	}
	if src != nil {
		params["screen_id"] = src.ScreenID
		params["screen_name"] = src.ScreenName
		if src.Course != "" {
			params["course"] = src.Course
		}
	}
	event := hooks.Event{Name: name, Params: params}
	r.emit(func() { r.hooks.Event.Emit(event) })
}

// call runs fn on the loop and waits for it.
func (r *Reconciler) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !r.loop.Enqueue(func() {
		fn()
		close(done)
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Purchase requests a payment of productID on behalf of source and waits for
// its terminal outcome. Only one explicit purchase may be pending at a time.
// If ctx ends first the transaction is still reconciled and reported through
// the hooks.
func (r *Reconciler) Purchase(ctx context.Context, productID string, source intent.Source) (*PurchaseResult, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id is required")
	}
	if source.IsZero() {
		source = intent.DefaultSource
	}

	key := uuid.NewString()
	done := make(chan purchaseOutcome, 1)
	var startErr error
	err := r.call(ctx, func() {
		if r.purchase != nil {
			startErr = ErrPurchaseInProgress
			return
		}
		r.purchase = &pendingPurchase{key: key, productID: productID, done: done}
		r.intents.Record(key, productID, source)
		r.emit(func() {
			r.hooks.Event.Emit(hooks.Event{
				Name: hooks.EventPurchaseStarted,
				Params: map[string]string{
					"product_id":  productID,
					"screen_id":   source.ScreenID,
					"screen_name": source.ScreenName,
				},
			})
		})
	})
	if err != nil {
		// The payment was never added, nothing will redeliver for this intent.
		r.abandonPurchase(key, true)
		return nil, err
	}
	if startErr != nil {
		return nil, startErr
	}

	logging.Infof("Purchase requested - product: %s, screen: %s", productID, source.ScreenID)
	payment := storekit.Payment{ProductID: productID, CorrelationID: key, UserID: r.cfg.UserID}
	if err := r.queue.AddPayment(ctx, payment); err != nil {
		r.abandonPurchase(key, true)
		reported := &TransactionError{ProductID: productID, Op: "add payment", Err: err}
		r.emit(func() { r.hooks.Error.Emit(reported) })
		return nil, reported
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		r.abandonPurchase(key, false)
		return nil, ctx.Err()
	}
}

// abandonPurchase releases the single-purchase slot held by key. The intent
// is kept unless dropIntent is set, so a late transaction is still attributed.
func (r *Reconciler) abandonPurchase(key string, dropIntent bool) {
	r.loop.Enqueue(func() {
		if r.purchase != nil && r.purchase.key == key {
			r.purchase = nil
		}
		if dropIntent {
			r.intents.Remove(key)
		}
	})
}

// Restore asks the platform to re-deliver completed transactions and returns
// the products newly granted by the restore.
func (r *Reconciler) Restore(ctx context.Context) ([]string, error) {
	done := make(chan restoreOutcome, 1)
	var startErr error
	if err := r.call(ctx, func() {
		if r.restore != nil {
			startErr = ErrRestoreInProgress
			return
		}
		r.restore = &pendingRestore{done: done}
	}); err != nil {
		return nil, err
	}
	if startErr != nil {
		return nil, startErr
	}

	if err := r.queue.RestoreCompletedTransactions(ctx); err != nil {
		r.loop.Enqueue(func() {
			if r.restore != nil && r.restore.done == done {
				r.restore = nil
			}
		})
		reported := fmt.Errorf("restore purchases: %w", err)
		r.emit(func() { r.hooks.Error.Emit(reported) })
		return nil, reported
	}

	select {
	case out := <-done:
		return out.products, out.err
	case <-ctx.Done():
		r.loop.Enqueue(func() {
			if r.restore != nil && r.restore.done == done {
				r.restore = nil
			}
		})
		return nil, ctx.Err()
	}
}

// VerifySubscriptions verifies the current receipt without touching the ledger.
func (r *Reconciler) VerifySubscriptions(ctx context.Context) (*verifier.Result, error) {
	result, err := r.verify(ctx, nil)
	if err != nil {
		reported := fmt.Errorf("verify subscriptions: %w", err)
		r.emit(func() { r.hooks.Error.Emit(reported) })
		return nil, reported
	}
	return result, nil
}

// Recheck re-verifies transactions whose verification previously failed for
// a recoverable reason, then returns the server-side subscription status.
func (r *Reconciler) Recheck(ctx context.Context) (*verifier.Status, error) {
	if err := r.reverify(ctx); err != nil {
		return nil, err
	}

	status, err := r.verifier.Status(ctx, r.cfg.UserID)
	if err != nil {
		reported := fmt.Errorf("subscription status: %w", err)
		r.emit(func() { r.hooks.Error.Emit(reported) })
		return nil, reported
	}
	return status, nil
}

func (r *Reconciler) reverify(ctx context.Context) error {
	var ids []string
	if err := r.call(ctx, func() {
		for _, id := range r.unverified.IDs() {
			if _, busy := r.inflight[id]; !busy {
				ids = append(ids, id)
			}
		}
	}); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	logging.Infof("Re-verifying %d unverified transactions", len(ids))
	result, err := r.verify(ctx, nil)
	if err != nil {
		// Still unverifiable; the set is kept for the next activation.
		reported := fmt.Errorf("re-verify transactions: %w", err)
		r.emit(func() { r.hooks.Error.Emit(reported) })
		return nil
	}
	return r.call(ctx, func() { r.applyRecheck(ids, result) })
}

// applyRecheck applies a re-verification answer to ids still waiting for one.
// Loop-only.
func (r *Reconciler) applyRecheck(ids []string, result *verifier.Result) {
	entries := make(map[string]ledger.Entry, len(ids))
	var pending []string
	for _, id := range ids {
		e, ok := r.unverified.Lookup(id)
		if !ok {
			continue
		}
		if _, busy := r.inflight[id]; busy {
			continue
		}
		entries[id] = e
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return
	}

	if !result.Active {
		r.unverified.Remove(r.storeCtx, pending...)
		for _, id := range pending {
			reported := &DeclinedError{TransactionID: id, ProductID: entries[id].ProductID, Result: result}
			r.emit(func() { r.hooks.Error.Emit(reported) })
		}
		return
	}

	var granted, restored []string
	for _, id := range pending {
		if !r.processed.Contains(id) {
			granted = append(granted, id, entries[id].OriginalID)
		}
	}
	r.processed.Insert(r.storeCtx, granted...)
	r.unverified.Remove(r.storeCtx, pending...)

	for _, id := range pending {
		e := entries[id]
		switch {
		case e.ProductID == "":
			logging.Warnf("Recovered transaction %s has no product id, not announced", id)
		case e.Restored:
			restored = append(restored, e.ProductID)
		default:
			purchase := hooks.Purchase{
				ProductID:           e.ProductID,
				TransactionID:       id,
				RemoteTransactionID: result.RemoteTransactionID,
				Source:              intent.DefaultSource,
			}
			r.emit(func() { r.hooks.Purchase.Emit(purchase) })
			r.emitEvent(hooks.EventPurchaseSuccess, storekit.Transaction{ID: id, ProductID: e.ProductID}, nil)
		}
	}
	if len(restored) > 0 {
		products := unique(restored)
		r.emit(func() { r.hooks.Restore.Emit(hooks.Restore{ProductIDs: products}) })
	}

	logging.Infof("Recovered %d transactions", len(pending))
	event := hooks.Event{
		Name:   hooks.EventRecovered,
		Params: map[string]string{"count": fmt.Sprint(len(pending))},
	}
	r.emit(func() { r.hooks.Event.Emit(event) })
}

// Reset clears the processed and unverified sets.
func (r *Reconciler) Reset(ctx context.Context) error {
	return r.call(ctx, func() {
		r.processed.Replace(r.storeCtx, nil)
		r.unverified.Replace(r.storeCtx, nil)
		logging.Infof("Transaction ledger reset")
	})
}

// Processed returns the granted transaction ids.
func (r *Reconciler) Processed(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.call(ctx, func() { ids = r.processed.IDs() })
	return ids, err
}

// Unverified returns transaction ids waiting for re-verification.
func (r *Reconciler) Unverified(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.call(ctx, func() { ids = r.unverified.IDs() })
	return ids, err
}

// Drain waits until all queued loop work and host callbacks enqueued before
// the call have run.
func (r *Reconciler) Drain(ctx context.Context) error {
	if err := r.call(ctx, func() {}); err != nil {
		return err
	}
	done := make(chan struct{})
	if !r.events.Enqueue(func() { close(done) }) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// unique returns ids without repeats, in first-seen order.
func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
