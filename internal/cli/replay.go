package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"purchase-sync/pkg/sdk"
	"purchase-sync/pkg/sdk/hooks"
	"purchase-sync/pkg/sdk/storekit"
	"purchase-sync/pkg/sdk/verifier"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	ReceiptFile string
	DeviceID    string
	Timeout     time.Duration
}

// BatchEntry is one transaction record in a replay file.
type BatchEntry struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	State      string `json:"state"`
	OriginalID string `json:"original_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReplayResult summarizes what the reconciler did with the batch.
type ReplayResult struct {
	Finished   []string `json:"finished"`
	Unfinished []string `json:"unfinished"`
	Granted    []string `json:"granted"`
	Restored   []string `json:"restored"`
	Errors     []string `json:"errors"`
}

func (r ReplayResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "finished:   %s\n", strings.Join(r.Finished, ", "))
	fmt.Fprintf(&b, "unfinished: %s\n", strings.Join(r.Unfinished, ", "))
	fmt.Fprintf(&b, "granted:    %s\n", strings.Join(r.Granted, ", "))
	fmt.Fprintf(&b, "restored:   %s\n", strings.Join(r.Restored, ", "))
	fmt.Fprintf(&b, "errors:     %d", len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  %s", e)
	}
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay BATCH_FILE",
		Short: "Replay a transaction batch through the reconciler",
		Long: `Deliver a JSON array of transaction records to the SDK as if the
platform payment queue reported them, and wait until every record that
can be finished has been finished.

Each record has id, product_id, state (purchasing, purchased, failed,
restored, deferred) and optionally original_id and error.

Exit codes:
  0 - Every finishable record was finished
  1 - Timed out with records still unfinished
  2 - Command error

Examples:
  purchasectl replay ./batch.json --receipt ./receipt.bin
  purchasectl replay ./batch.json --receipt ./receipt.bin --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd, args[0])
		},
	}

	hostname, _ := os.Hostname()
	cmd.Flags().StringVar(&opts.ReceiptFile, "receipt", "", "receipt file returned by the simulated platform")
	cmd.Flags().StringVar(&opts.DeviceID, "device-id", hostname, "device id used if the SDK has to register")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", time.Minute, "how long to wait for the batch to settle")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	batch, err := loadBatch(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load batch", err)
	}

	receipts := storekit.ReceiptFunc(func(context.Context) ([]byte, error) {
		if opts.ReceiptFile == "" {
			return nil, nil
		}
		return os.ReadFile(opts.ReceiptFile)
	})
	queue := newReplayQueue()

	s, err := sdk.Configure(ctx, sdk.Options{
		Config:   opts.clientConfig(),
		Queue:    queue,
		Receipts: receipts,
		Device:   verifier.Device{DeviceID: opts.DeviceID, Platform: "ios"},
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure SDK", err)
	}
	defer s.Close()

	var mu sync.Mutex
	result := ReplayResult{}
	s.OnPurchase(func(p hooks.Purchase) {
		mu.Lock()
		defer mu.Unlock()
		result.Granted = append(result.Granted, p.TransactionID)
	})
	s.OnRestorePurchases(func(products []string) {
		mu.Lock()
		defer mu.Unlock()
		result.Restored = append(result.Restored, products...)
	})
	s.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		result.Errors = append(result.Errors, err.Error())
	})

	expected := make(map[string]struct{})
	for _, txn := range batch {
		if finishable(txn.State) {
			expected[txn.ID] = struct{}{}
		}
	}

	s.Observer().Updated(batch)

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	waitErr := queue.waitFinished(waitCtx, len(expected))
	if err := s.Sync(waitCtx); err != nil && waitErr == nil {
		waitErr = err
	}

	finished := queue.finished()
	done := make(map[string]bool, len(finished))
	for _, id := range finished {
		done[id] = true
	}

	mu.Lock()
	result.Finished = finished
	for _, txn := range batch {
		if !done[txn.ID] {
			result.Unfinished = append(result.Unfinished, txn.ID)
		}
	}
	out := result
	mu.Unlock()

	if err := opts.formatter(cmd).Success(out); err != nil {
		return err
	}
	if waitErr != nil {
		return WrapExitError(ExitFailure, "batch did not settle", waitErr)
	}
	return nil
}

func finishable(state storekit.TransactionState) bool {
	switch state {
	case storekit.StatePurchased, storekit.StateRestored, storekit.StateFailed:
		return true
	default:
		return false
	}
}

// loadBatch reads a replay file into platform transaction records.
func loadBatch(path string) ([]storekit.Transaction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []BatchEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("invalid batch file: %w", err)
	}

	batch := make([]storekit.Transaction, 0, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("entry %d has no id", i)
		}
		state, err := storekit.ParseState(e.State)
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		txn := storekit.Transaction{ID: e.ID, ProductID: e.ProductID, State: state}
		if e.OriginalID != "" {
			txn.Original = &storekit.Transaction{ID: e.OriginalID, ProductID: e.ProductID, State: storekit.StatePurchased}
		}
		if e.Error != "" {
			txn.Err = errors.New(e.Error)
		}
		batch = append(batch, txn)
	}
	return batch, nil
}

// replayQueue is a payment queue that only records finished transactions.
type replayQueue struct {
	mu     sync.Mutex
	done   map[string]struct{}
	notify chan struct{}
}

func newReplayQueue() *replayQueue {
	return &replayQueue{done: make(map[string]struct{}), notify: make(chan struct{}, 1)}
}

func (q *replayQueue) AddPayment(context.Context, storekit.Payment) error {
	return errors.New("replay queue does not accept payments")
}

func (q *replayQueue) Finish(_ context.Context, txn storekit.Transaction) error {
	q.mu.Lock()
	q.done[txn.ID] = struct{}{}
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *replayQueue) RestoreCompletedTransactions(context.Context) error {
	return nil
}

func (q *replayQueue) finished() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.done))
	for id := range q.done {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (q *replayQueue) waitFinished(ctx context.Context, n int) error {
	for {
		q.mu.Lock()
		count := len(q.done)
		q.mu.Unlock()
		if count >= n {
			return nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
