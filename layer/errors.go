package layer

import (
	"errors"
	"fmt"
)

// DuplicateTransactionError is returned when a layer is pushed for a
// transaction that already has a live layer. The existing layer is untouched.
type DuplicateTransactionError struct {
	TxID TxID
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("optimistic transaction %q already has a live layer", e.TxID)
}

// UnknownTransactionError is returned when a transaction has no live layer.
type UnknownTransactionError struct {
	TxID TxID
}

func (e *UnknownTransactionError) Error() string {
	return fmt.Sprintf("optimistic transaction %q has no live layer", e.TxID)
}

func IsDuplicateTransaction(err error) bool {
	var e *DuplicateTransactionError
	return errors.As(err, &e)
}

func IsUnknownTransaction(err error) bool {
	var e *UnknownTransactionError
	return errors.As(err, &e)
}
