package service

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/events"
)

// Ledger is what the orchestrator needs from the ledger adapter.
type Ledger interface {
	CreateAccount(ctx context.Context, id domain.ID, ledger uint32, code uint16, flags domain.AccountFlags) (*domain.Account, error)
	EnsureAccount(ctx context.Context, id domain.ID, ledger uint32, code uint16, flags domain.AccountFlags) (*domain.Account, error)
	GetAccount(ctx context.Context, id domain.ID) (*domain.Account, error)
	CreatePendingTransfer(ctx context.Context, id, debitID, creditID domain.ID, amount *big.Int, timeoutSeconds uint32, ledger uint32, code uint16) (*domain.Transfer, error)
	GenerateID() domain.ID
}

// Scheduler records pending operations and settles them when due.
type Scheduler interface {
	Prepare(ctx context.Context, op domain.PendingOperation) error
	Discard(ctx context.Context, id domain.ID) error
	Schedule(ctx context.Context, op domain.PendingOperation) error
	Lookup(ctx context.Context, id domain.ID) (domain.PendingOperation, error)
}

// Publisher emits lifecycle events. May be nil.
type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

type WalletService struct {
	ledger     Ledger
	scheduler  Scheduler
	publisher  Publisher
	deposit    domain.Policy
	withdrawal domain.Policy
	log        *zap.Logger
	now        func() time.Time

	systemReady atomic.Bool
}

func NewWalletService(ledger Ledger, scheduler Scheduler, publisher Publisher, deposit, withdrawal domain.Policy, logger *zap.Logger) (*WalletService, error) {
	if err := deposit.Validate(); err != nil {
		return nil, fmt.Errorf("deposit policy: %w", err)
	}
	if err := withdrawal.Validate(); err != nil {
		return nil, fmt.Errorf("withdrawal policy: %w", err)
	}
	return &WalletService{
		ledger:     ledger,
		scheduler:  scheduler,
		publisher:  publisher,
		deposit:    deposit,
		withdrawal: withdrawal,
		log:        logger.Named("wallet"),
		now:        time.Now,
	}, nil
}

// Bootstrap ensures the system account exists.
func (s *WalletService) Bootstrap(ctx context.Context) error {
	return s.ensureSystemAccount(ctx)
}

func (s *WalletService) ensureSystemAccount(ctx context.Context) error {
	if s.systemReady.Load() {
		return nil
	}
	if _, err := s.ledger.EnsureAccount(ctx, domain.SystemAccountID, domain.SystemLedger, domain.SystemCode, domain.AccountFlags{}); err != nil {
		return fmt.Errorf("system account: %w", err)
	}
	if !s.systemReady.Swap(true) {
		s.log.Info("system account ready", zap.Stringer("account_id", domain.SystemAccountID))
	}
	return nil
}

// CreateWallet opens a zero-balance wallet that the engine never lets go negative.
func (s *WalletService) CreateWallet(ctx context.Context) (domain.ID, error) {
	id := s.ledger.GenerateID()
	flags := domain.AccountFlags{DebitsMustNotExceedCredits: true}
	if _, err := s.ledger.CreateAccount(ctx, id, domain.WalletLedger, domain.WalletCode, flags); err != nil {
		return domain.ID{}, err
	}
	s.log.Info("wallet created", zap.Stringer("wallet_id", id))
	return id, nil
}

func (s *WalletService) GetBalance(ctx context.Context, walletID domain.ID) (domain.Balance, error) {
	acct, err := s.ledger.GetAccount(ctx, walletID)
	if err != nil {
		return domain.Balance{}, err
	}
	if acct == nil {
		return domain.Balance{}, domain.ErrWalletNotFound
	}
	return acct.Balance(), nil
}

// Deposit reserves amount from the system account into the wallet. The funds
// reach the available balance once settlement posts the transfer.
func (s *WalletService) Deposit(ctx context.Context, walletID domain.ID, amount *big.Int) (*domain.OperationResult, error) {
	return s.open(ctx, domain.KindDeposit, s.deposit, domain.SystemAccountID, walletID, walletID, amount)
}

// StartWithdrawal reserves amount from the wallet. The engine rejects it with
// an error matching domain.ErrInsufficientFunds when the wallet cannot cover it.
func (s *WalletService) StartWithdrawal(ctx context.Context, walletID domain.ID, amount *big.Int) (*domain.OperationResult, error) {
	return s.open(ctx, domain.KindWithdrawal, s.withdrawal, walletID, domain.SystemAccountID, walletID, amount)
}

// GetOperation returns an operation that has not settled yet, or one that was abandoned.
func (s *WalletService) GetOperation(ctx context.Context, id domain.ID) (domain.PendingOperation, error) {
	return s.scheduler.Lookup(ctx, id)
}

func (s *WalletService) open(ctx context.Context, kind domain.OperationKind, policy domain.Policy, debitID, creditID, walletID domain.ID, amount *big.Int) (*domain.OperationResult, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if err := s.ensureSystemAccount(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	op := domain.PendingOperation{
		ID:                s.ledger.GenerateID(),
		Kind:              kind,
		WalletID:          walletID,
		PendingTransferID: s.ledger.GenerateID(),
		Amount:            new(big.Int).Set(amount),
		CreatedAt:         now,
		DueAt:             now.Add(policy.Delay),
		ExpiresAt:         now.Add(policy.Timeout()),
	}

	if err := s.scheduler.Prepare(ctx, op); err != nil {
		return nil, fmt.Errorf("record %s: %w", kind, err)
	}

	_, err := s.ledger.CreatePendingTransfer(ctx, op.PendingTransferID, debitID, creditID, amount,
		policy.TimeoutSeconds, domain.WalletLedger, domain.TransferCode)

	// The engine call may have committed even if ctx ended meanwhile, so the
	// record keeping that follows must not be cut short by the caller.
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if derr := s.scheduler.Discard(bg, op.ID); derr != nil {
			s.log.Warn("unable to discard unopened operation", zap.Stringer("operation_id", op.ID), zap.Error(derr))
		}
		return nil, err
	}

	if err := s.scheduler.Schedule(bg, op); err != nil {
		// The engine voids the orphaned transfer at its timeout.
		s.log.Error("pending transfer opened but settlement not scheduled",
			zap.String("kind", string(kind)),
			zap.Stringer("pending_transfer_id", op.PendingTransferID),
			zap.Error(err))
		return nil, fmt.Errorf("schedule %s: %w", kind, err)
	}

	s.log.Info("pending transfer opened",
		zap.String("kind", string(kind)),
		zap.Stringer("operation_id", op.ID),
		zap.Stringer("wallet_id", walletID),
		zap.Stringer("pending_transfer_id", op.PendingTransferID),
		zap.String("amount", amount.String()),
		zap.Time("due_at", op.DueAt))
	s.publishOpened(bg, op)

	return &domain.OperationResult{
		OperationID:       op.ID,
		PendingTransferID: op.PendingTransferID,
		Amount:            op.Amount,
		Status:            domain.StatusPending,
	}, nil
}

func (s *WalletService) publishOpened(ctx context.Context, op domain.PendingOperation) {
	if s.publisher == nil {
		return
	}
	eventType := events.DepositOpened
	if op.Kind == domain.KindWithdrawal {
		eventType = events.WithdrawalOpened
	}
	err := s.publisher.Publish(ctx, events.WalletEventsStream, eventType, events.OperationOpenedEvent{
		OperationID:       op.ID.String(),
		WalletID:          op.WalletID.String(),
		PendingTransferID: op.PendingTransferID.String(),
		Amount:            op.Amount.String(),
		DueAt:             op.DueAt,
	})
	if err != nil {
		s.log.Warn("unable to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
