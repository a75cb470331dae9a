package domain

import (
	"errors"
	"fmt"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOperationNotFound = errors.New("operation not found")
)

// LedgerRejectedError is returned when the engine refuses to create an account.
type LedgerRejectedError struct {
	Op     string
	Reason string
	// Exists is set when the account id is already taken.
	Exists bool
}

func (e *LedgerRejectedError) Error() string {
	return fmt.Sprintf("%s rejected by ledger: %s", e.Op, e.Reason)
}

// RejectKind classifies a transfer rejection so callers never inspect engine codes.
type RejectKind int

const (
	RejectOther RejectKind = iota
	RejectInsufficientFunds
	RejectUnknownAccount
	RejectDuplicate
	RejectPendingNotFound
	RejectAlreadyPosted
	RejectAlreadyVoided
	RejectExpired
)

// TransferRejectedError is returned when the engine refuses a transfer.
type TransferRejectedError struct {
	Op     string
	Reason string
	Kind   RejectKind
}

func (e *TransferRejectedError) Error() string {
	return fmt.Sprintf("%s rejected by ledger: %s", e.Op, e.Reason)
}

// Is lets errors.Is(err, ErrInsufficientFunds) match balance rejections.
func (e *TransferRejectedError) Is(target error) bool {
	return target == ErrInsufficientFunds && e.Kind == RejectInsufficientFunds
}

// Permanent reports whether retrying the same post can never succeed.
func (e *TransferRejectedError) Permanent() bool {
	switch e.Kind {
	case RejectPendingNotFound, RejectAlreadyVoided, RejectExpired:
		return true
	}
	return false
}

// SettlementFailedError describes a settlement attempt that did not post.
type SettlementFailedError struct {
	OperationID ID
	Attempts    int
	Err         error
}

func (e *SettlementFailedError) Error() string {
	return fmt.Sprintf("settlement of %s failed after %d attempt(s): %v", e.OperationID, e.Attempts, e.Err)
}

func (e *SettlementFailedError) Unwrap() error {
	return e.Err
}
