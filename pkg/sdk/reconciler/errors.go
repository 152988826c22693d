package reconciler

import (
	"errors"
	"fmt"
	"purchase-sync/pkg/sdk/verifier"
)

var (
	ErrPurchaseInProgress   = errors.New("another purchase is already in progress")
	ErrRestoreInProgress    = errors.New("a restore is already in progress")
	ErrVerificationDeclined = errors.New("verification declined")
	ErrPurchaseFailed       = errors.New("purchase failed")
	ErrStopped              = errors.New("reconciler is not running")
)

// DeclinedError is reported when the server answered but did not grant.
type DeclinedError struct {
	TransactionID string
	ProductID     string
	Result        *verifier.Result
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("verification declined for transaction %s (product %s)", e.TransactionID, e.ProductID)
}

func (e *DeclinedError) Is(target error) bool {
	return target == ErrVerificationDeclined
}

// TransactionError ties a store or verification failure to its transaction.
type TransactionError struct {
	TransactionID string
	ProductID     string
	Op            string
	Err           error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s transaction %s (product %s): %v", e.Op, e.TransactionID, e.ProductID, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// recoverable reports whether a failed verification may succeed on a later
// attempt with the same receipt.
func recoverable(err error) bool {
	return verifier.IsTransient(err) || errors.Is(err, verifier.ErrMissingReceipt)
}
