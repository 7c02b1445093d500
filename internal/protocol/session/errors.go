package session

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout         = errors.New("session: transaction timed out")
	ErrCommandRejected = errors.New("session: command rejected")
	ErrTooManyPending  = errors.New("session: too many pending transactions")
	ErrCancelled       = errors.New("session: transaction cancelled")
	ErrUnknownID       = errors.New("session: unknown transaction")
)

// CommandRejectedError carries the non-success status of a confirmation or
// the error code of an RPC error frame.
type CommandRejectedError struct {
	Command string
	Status  uint8
	// RPC is set when the NCP could not parse the request at all.
	RPC bool
}

func (e *CommandRejectedError) Error() string {
	if e.RPC {
		return fmt.Sprintf("session: %s rejected by rpc error code=0x%02X", e.Command, e.Status)
	}
	return fmt.Sprintf("session: %s rejected status=0x%02X", e.Command, e.Status)
}

func (e *CommandRejectedError) Unwrap() error {
	return ErrCommandRejected
}
