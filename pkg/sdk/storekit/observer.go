package storekit

import (
	"purchase-sync/pkg/logging"
	"sync"
)

// Handler receives what the platform queue reports. Implementations must not
// block the calling platform goroutine.
type Handler interface {
	HandleTransactions(batch []Transaction)
	HandleRestoreFinished(err error)
}

// Observer is the single process-wide observer of the payment queue. It never
// finishes transactions itself: every batch is forwarded verbatim and the
// handler decides when each record may be finished.
type Observer struct {
	mu      sync.RWMutex
	handler Handler
	dropped int
}

// NewObserver creates an observer forwarding to handler.
func NewObserver(handler Handler) *Observer {
	return &Observer{handler: handler}
}

// Attach replaces the handler; nil detaches it.
func (o *Observer) Attach(handler Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handler = handler
}

// Updated is called by the platform with a batch of changed transactions.
func (o *Observer) Updated(batch []Transaction) {
	if len(batch) == 0 {
		return
	}
	o.mu.RLock()
	h := o.handler
	o.mu.RUnlock()

	if h == nil {
		// Records stay unfinished on the platform queue and are redelivered.
		o.mu.Lock()
		o.dropped += len(batch)
		o.mu.Unlock()
		logging.Warnf("No transaction handler attached, leaving %d transactions on the queue", len(batch))
		return
	}

	forwarded := make([]Transaction, len(batch))
	copy(forwarded, batch)
	h.HandleTransactions(forwarded)
}

// RestoreFinished is called when a restore request completes or fails.
func (o *Observer) RestoreFinished(err error) {
	o.mu.RLock()
	h := o.handler
	o.mu.RUnlock()
	if h == nil {
		return
	}
	h.HandleRestoreFinished(err)
}

// Dropped returns how many records arrived with no handler attached.
func (o *Observer) Dropped() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dropped
}
