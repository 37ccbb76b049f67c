package ledger

import (
	"errors"
	"fmt"
)

// ErrTxnNotFound is returned by stores when no transaction exists for an id.
var ErrTxnNotFound = errors.New("transaction not found")

// ErrInvalidState rejects a transition the state machine does not allow,
// e.g. refunding a transaction that is not completed.
var ErrInvalidState = errors.New("invalid transaction state")

func invalidState(id string, from, to TxnStatus) error {
	return fmt.Errorf("%w: %s cannot go %s -> %s", ErrInvalidState, id, from, to)
}
