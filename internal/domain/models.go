package domain

import (
	"math/big"
	"time"
)

// Ledger numbers and codes used by the wallet service.
const (
	WalletLedger uint32 = 1
	WalletCode   uint16 = 718

	SystemLedger uint32 = 1
	SystemCode   uint16 = 100

	TransferCode uint16 = 1
)

// SystemAccountID is the well-known counterparty for deposits and withdrawals.
var SystemAccountID = MustParseID("999999999999999999")

// AccountFlags selects engine-enforced account constraints.
type AccountFlags struct {
	// DebitsMustNotExceedCredits makes the engine reject any transfer that would
	// push debits_pending + debits_posted above credits_posted.
	DebitsMustNotExceedCredits bool
}

// Account is a ledger account. A wallet is an Account whose ID is exposed to clients.
// Posted counters only ever grow; pending counters shrink when a pending
// transfer is posted or voided.
type Account struct {
	ID             ID           `json:"id"`
	Ledger         uint32       `json:"ledger"`
	Code           uint16       `json:"code"`
	Flags          AccountFlags `json:"flags"`
	DebitsPending  *big.Int     `json:"debits_pending"`
	DebitsPosted   *big.Int     `json:"debits_posted"`
	CreditsPending *big.Int     `json:"credits_pending"`
	CreditsPosted  *big.Int     `json:"credits_posted"`
	Timestamp      uint64       `json:"timestamp"`
}

// TransferMode selects how the engine applies a transfer.
type TransferMode int

const (
	TransferPlain TransferMode = iota
	TransferPending
	TransferPostPending
	TransferVoidPending
)

func (m TransferMode) String() string {
	switch m {
	case TransferPending:
		return "pending"
	case TransferPostPending:
		return "post_pending"
	case TransferVoidPending:
		return "void_pending"
	default:
		return "plain"
	}
}

// Transfer is an immutable ledger transfer record.
type Transfer struct {
	ID              ID           `json:"id"`
	DebitAccountID  ID           `json:"debit_account_id"`
	CreditAccountID ID           `json:"credit_account_id"`
	Amount          *big.Int     `json:"amount"`
	PendingID       ID           `json:"pending_id"`
	Ledger          uint32       `json:"ledger"`
	Code            uint16       `json:"code"`
	Mode            TransferMode `json:"mode"`
	TimeoutSeconds  uint32       `json:"timeout"`
	Timestamp       uint64       `json:"timestamp"`
}

// OperationKind distinguishes deposits from withdrawals.
type OperationKind string

const (
	KindDeposit    OperationKind = "deposit"
	KindWithdrawal OperationKind = "withdrawal"
)

// OperationState tracks a pending operation through settlement.
type OperationState string

const (
	StateOpening   OperationState = "OPENING"
	StateOpen      OperationState = "OPEN"
	StateSettling  OperationState = "SETTLING"
	StateSettled   OperationState = "SETTLED"
	StateAbandoned OperationState = "ABANDONED"
)

// Terminal reports whether no further settlement attempt will happen.
func (s OperationState) Terminal() bool {
	return s == StateSettled || s == StateAbandoned
}

// PendingOperation is a deposit or withdrawal whose pending transfer has been
// opened but not yet posted.
type PendingOperation struct {
	ID                ID             `json:"id"`
	Kind              OperationKind  `json:"kind"`
	WalletID          ID             `json:"wallet_id"`
	PendingTransferID ID             `json:"pending_transfer_id"`
	Amount            *big.Int       `json:"amount"`
	State             OperationState `json:"state"`
	Attempts          int            `json:"attempts"`
	CreatedAt         time.Time      `json:"created_at"`
	DueAt             time.Time      `json:"due_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	LastError         string         `json:"last_error,omitempty"`
}

// OperationResult is returned when a deposit or withdrawal has been opened.
type OperationResult struct {
	OperationID       ID
	PendingTransferID ID
	Amount            *big.Int
	Status            string
}

// StatusPending is the only status returned by Deposit and StartWithdrawal.
const StatusPending = "pending"
