// Package storekit describes the platform payment queue the SDK sits on and
// the observer that hands its transaction batches to the reconciler.
package storekit

import (
	"context"
	"fmt"
)

// TransactionState is the platform state of a transaction record.
type TransactionState int

const (
	StatePurchasing TransactionState = iota + 1
	StatePurchased
	StateFailed
	StateRestored
	StateDeferred
)

func (s TransactionState) String() string {
	switch s {
	case StatePurchasing:
		return "purchasing"
	case StatePurchased:
		return "purchased"
	case StateFailed:
		return "failed"
	case StateRestored:
		return "restored"
	case StateDeferred:
		return "deferred"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState maps a state name back to its value.
func ParseState(name string) (TransactionState, error) {
	switch name {
	case "purchasing":
		return StatePurchasing, nil
	case "purchased":
		return StatePurchased, nil
	case "failed":
		return StateFailed, nil
	case "restored":
		return StateRestored, nil
	case "deferred":
		return StateDeferred, nil
	default:
		return 0, fmt.Errorf("unknown transaction state %q", name)
	}
}

// Transaction is a record delivered by the payment queue.
type Transaction struct {
	ID        string
	ProductID string
	State     TransactionState
	// Original links a restored record to the purchase it re-surfaces.
	Original *Transaction
	// PaymentKey echoes Payment.CorrelationID when the platform carries it.
	PaymentKey string
	// Err is set for failed records.
	Err error
}

// OriginalID returns the original transaction id, if any.
func (t Transaction) OriginalID() string {
	if t.Original == nil {
		return ""
	}
	return t.Original.ID
}

// Payment is an outgoing payment request.
type Payment struct {
	ProductID string
	// CorrelationID is attached to the request so the resulting transaction
	// can be matched to the intent that created it.
	CorrelationID string
	// UserID is the application user name passed to the platform.
	UserID string
}

// PaymentQueue is the platform payment queue.
type PaymentQueue interface {
	AddPayment(ctx context.Context, payment Payment) error
	// Finish removes the transaction from the platform queue.
	Finish(ctx context.Context, txn Transaction) error
	RestoreCompletedTransactions(ctx context.Context) error
}

// ReceiptSource returns the current signed proof of purchase.
type ReceiptSource interface {
	Receipt(ctx context.Context) ([]byte, error)
}

// ReceiptFunc adapts a function to ReceiptSource.
type ReceiptFunc func(ctx context.Context) ([]byte, error)

func (f ReceiptFunc) Receipt(ctx context.Context) ([]byte, error) {
	return f(ctx)
}
