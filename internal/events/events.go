package events

import "time"

// Event types
const (
	DepositOpened       = "deposit.opened"
	WithdrawalOpened    = "withdrawal.opened"
	SettlementSettled   = "settlement.settled"
	SettlementAbandoned = "settlement.abandoned"
)

// WalletEventsStream is the Redis stream all wallet events are appended to.
const WalletEventsStream = "wallet.events"

// Event is the envelope stored under the "event" field of each stream entry.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// OperationOpenedEvent is published once a pending transfer has been opened.
type OperationOpenedEvent struct {
	OperationID       string    `json:"operationId"`
	WalletID          string    `json:"walletId"`
	PendingTransferID string    `json:"pendingTransferId"`
	Amount            string    `json:"amount"`
	DueAt             time.Time `json:"dueAt"`
}

// SettlementEvent is published when an operation settles or is abandoned.
type SettlementEvent struct {
	OperationID       string `json:"operationId"`
	Kind              string `json:"kind"`
	WalletID          string `json:"walletId"`
	PendingTransferID string `json:"pendingTransferId"`
	Amount            string `json:"amount"`
	Attempts          int    `json:"attempts"`
	Error             string `json:"error,omitempty"`
}
