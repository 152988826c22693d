// Package hooks is the host-facing callback surface. Every registration
// returns an unsubscribe func; nothing relies on garbage collection to drop
// a listener.
package hooks

import (
	"purchase-sync/pkg/sdk/intent"
	"sort"
	"sync"
)

// Registry holds listeners for one event type.
type Registry[T any] struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]func(T)
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{listeners: make(map[int]func(T))}
}

// Subscribe adds fn. Calling the returned func more than once is harmless.
func (r *Registry[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.listeners[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, id)
			r.mu.Unlock()
		})
	}
}

// Emit calls every listener in subscription order.
func (r *Registry[T]) Emit(v T) {
	r.mu.RLock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.listeners[id])
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of listeners.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// Purchase is reported once per newly granted purchase.
type Purchase struct {
	ProductID           string
	TransactionID       string
	RemoteTransactionID string
	Source              intent.Source
}

// Restore is reported once per restore batch with every newly granted product.
type Restore struct {
	ProductIDs []string
}

// Event is an analytics event emitted by the reconciler.
type Event struct {
	Name   string
	Params map[string]string
}

// Analytics event names.
const (
	EventPurchaseStarted  = "purchase_started"
	EventPurchaseSuccess  = "purchase_success"
	EventPurchaseDeclined = "purchase_declined"
	EventPurchaseFailed   = "purchase_failed"
	EventRestoreSuccess   = "restore_success"
	EventDuplicateSkipped = "transaction_duplicate"
	EventRecovered        = "transaction_recovered"
)

// Hooks bundles the registries the reconciler emits to.
type Hooks struct {
	Purchase           *Registry[Purchase]
	Restore            *Registry[Restore]
	Error              *Registry[error]
	SuccessfulPurchase *Registry[struct{}]
	Event              *Registry[Event]
}

// New creates empty registries.
func New() *Hooks {
	return &Hooks{
		Purchase:           NewRegistry[Purchase](),
		Restore:            NewRegistry[Restore](),
		Error:              NewRegistry[error](),
		SuccessfulPurchase: NewRegistry[struct{}](),
		Event:              NewRegistry[Event](),
	}
}
