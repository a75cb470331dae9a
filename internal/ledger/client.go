// Package ledger adapts the TigerBeetle client to the wallet domain. Every
// method issues exactly one single-item request so that a rejection can always
// be attributed to the record that caused it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	tb "github.com/tigerbeetle/tigerbeetle-go"
	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/domain"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_ledger_request_duration_seconds",
		Help:    "Latency of ledger engine requests",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
	}, []string{"op"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_ledger_rejections_total",
		Help: "Ledger engine rejections, labeled by operation and engine reason",
	}, []string{"op", "reason"})
)

// Engine is the subset of the TigerBeetle client the adapter drives.
type Engine interface {
	CreateAccounts(accounts []types.Account) ([]types.AccountEventResult, error)
	CreateTransfers(transfers []types.Transfer) ([]types.TransferEventResult, error)
	LookupAccounts(accountIDs []types.Uint128) ([]types.Account, error)
	LookupTransfers(transferIDs []types.Uint128) ([]types.Transfer, error)
	Close()
}

// amountMax posts the full amount of a pending transfer.
var amountMax = types.Uint128{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

var (
	flagPending     = types.TransferFlags{Pending: true}.ToUint16()
	flagPost        = types.TransferFlags{PostPendingTransfer: true}.ToUint16()
	flagVoid        = types.TransferFlags{VoidPendingTransfer: true}.ToUint16()
	flagNoOverdraft = types.AccountFlags{DebitsMustNotExceedCredits: true}.ToUint16()
)

type Client struct {
	engine Engine
	log    *zap.Logger
}

func New(engine Engine, logger *zap.Logger) *Client {
	return &Client{engine: engine, log: logger.Named("ledger")}
}

// Dial connects to a TigerBeetle cluster.
func Dial(clusterID uint64, addresses []string, logger *zap.Logger) (*Client, error) {
	c, err := tb.NewClient(types.ToUint128(clusterID), addresses)
	if err != nil {
		return nil, fmt.Errorf("unable to create ledger client: %w", err)
	}
	return New(c, logger), nil
}

func (c *Client) Close() {
	c.engine.Close()
}

// GenerateID returns a time-ordered, globally unique id.
func (c *Client) GenerateID() domain.ID {
	return domain.ID(types.ID())
}

// CreateAccount creates a single account with zeroed counters.
func (c *Client) CreateAccount(ctx context.Context, id domain.ID, ledger uint32, code uint16, flags domain.AccountFlags) (*domain.Account, error) {
	const op = "create_account"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acc := types.Account{
		ID:     types.Uint128(id),
		Ledger: ledger,
		Code:   code,
		Flags:  accountFlags(flags),
	}

	timer := prometheus.NewTimer(requestDuration.WithLabelValues(op))
	results, err := c.engine.CreateAccounts([]types.Account{acc})
	timer.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(results) > 0 {
		reason := results[0].Result.String()
		rejectionsTotal.WithLabelValues(op, reason).Inc()
		c.log.Warn("account creation rejected",
			zap.Stringer("account_id", id),
			zap.Uint32("ledger", ledger),
			zap.Uint16("code", code),
			zap.String("reason", reason))
		return nil, &domain.LedgerRejectedError{Op: op, Reason: reason, Exists: results[0].Result == types.AccountExists}
	}

	c.log.Debug("account created", zap.Stringer("account_id", id), zap.Uint32("ledger", ledger), zap.Uint16("code", code))
	return toDomainAccount(acc), nil
}

// EnsureAccount creates the account or, if it already exists with the same
// ledger and code, returns the stored record.
func (c *Client) EnsureAccount(ctx context.Context, id domain.ID, ledger uint32, code uint16, flags domain.AccountFlags) (*domain.Account, error) {
	acc, err := c.CreateAccount(ctx, id, ledger, code, flags)
	if err == nil {
		return acc, nil
	}
	var rej *domain.LedgerRejectedError
	if !errors.As(err, &rej) || !rej.Exists {
		return nil, err
	}

	existing, err := c.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("account %s reported as existing but lookup found nothing", id)
	}
	if existing.Ledger != ledger || existing.Code != code {
		return nil, &domain.LedgerRejectedError{Op: "ensure_account", Reason: "exists_with_different_ledger_or_code"}
	}
	return existing, nil
}

// GetAccount returns nil, nil when the account does not exist.
func (c *Client) GetAccount(ctx context.Context, id domain.ID) (*domain.Account, error) {
	const op = "lookup_account"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timer := prometheus.NewTimer(requestDuration.WithLabelValues(op))
	accounts, err := c.engine.LookupAccounts([]types.Uint128{types.Uint128(id)})
	timer.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(accounts) == 0 {
		c.log.Debug("account not found", zap.Stringer("account_id", id))
		return nil, nil
	}
	return toDomainAccount(accounts[0]), nil
}

// TransferRequest describes a transfer to submit.
type TransferRequest struct {
	ID              domain.ID
	DebitAccountID  domain.ID
	CreditAccountID domain.ID
	Amount          *big.Int
	Mode            domain.TransferMode
	PendingID       domain.ID
	TimeoutSeconds  uint32
	Ledger          uint32
	Code            uint16
}

// CreateTransfer submits a single transfer of any mode.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*domain.Transfer, error) {
	amount, err := toUint128(req.Amount)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, "create_transfer", types.Transfer{
		ID:              types.Uint128(req.ID),
		DebitAccountID:  types.Uint128(req.DebitAccountID),
		CreditAccountID: types.Uint128(req.CreditAccountID),
		Amount:          amount,
		PendingID:       types.Uint128(req.PendingID),
		Timeout:         req.TimeoutSeconds,
		Ledger:          req.Ledger,
		Code:            req.Code,
		Flags:           transferFlags(req.Mode),
	})
}

// CreatePendingTransfer reserves amount on both accounts. The engine voids the
// transfer on its own if nothing posts it within timeoutSeconds.
func (c *Client) CreatePendingTransfer(ctx context.Context, id, debitID, creditID domain.ID, amount *big.Int, timeoutSeconds uint32, ledger uint32, code uint16) (*domain.Transfer, error) {
	a, err := toUint128(amount)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, "create_pending_transfer", types.Transfer{
		ID:              types.Uint128(id),
		DebitAccountID:  types.Uint128(debitID),
		CreditAccountID: types.Uint128(creditID),
		Amount:          a,
		Timeout:         timeoutSeconds,
		Ledger:          ledger,
		Code:            code,
		Flags:           flagPending,
	})
}

// PostPendingTransfer posts the full amount of the referenced pending transfer.
func (c *Client) PostPendingTransfer(ctx context.Context, pendingID, newID domain.ID) (*domain.Transfer, error) {
	return c.submit(ctx, "post_pending_transfer", types.Transfer{
		ID:        types.Uint128(newID),
		Amount:    amountMax,
		PendingID: types.Uint128(pendingID),
		Ledger:    domain.WalletLedger,
		Code:      domain.TransferCode,
		Flags:     flagPost,
	})
}

// GetTransfer returns nil, nil when the transfer does not exist.
func (c *Client) GetTransfer(ctx context.Context, id domain.ID) (*domain.Transfer, error) {
	const op = "lookup_transfer"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timer := prometheus.NewTimer(requestDuration.WithLabelValues(op))
	transfers, err := c.engine.LookupTransfers([]types.Uint128{types.Uint128(id)})
	timer.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(transfers) == 0 {
		return nil, nil
	}
	return toDomainTransfer(transfers[0]), nil
}

func (c *Client) submit(ctx context.Context, op string, t types.Transfer) (*domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timer := prometheus.NewTimer(requestDuration.WithLabelValues(op))
	results, err := c.engine.CreateTransfers([]types.Transfer{t})
	timer.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(results) > 0 {
		result := results[0].Result
		reason := result.String()
		rejectionsTotal.WithLabelValues(op, reason).Inc()
		c.log.Warn("transfer rejected",
			zap.String("op", op),
			zap.Stringer("transfer_id", domain.ID(t.ID)),
			zap.Stringer("debit_account_id", domain.ID(t.DebitAccountID)),
			zap.Stringer("credit_account_id", domain.ID(t.CreditAccountID)),
			zap.Stringer("pending_id", domain.ID(t.PendingID)),
			zap.String("reason", reason))
		return nil, &domain.TransferRejectedError{Op: op, Reason: reason, Kind: classify(result)}
	}

	c.log.Debug("transfer created",
		zap.String("op", op),
		zap.Stringer("transfer_id", domain.ID(t.ID)),
		zap.Stringer("pending_id", domain.ID(t.PendingID)))
	return toDomainTransfer(t), nil
}

func classify(r types.CreateTransferResult) domain.RejectKind {
	switch r {
	case types.TransferExceedsCredits, types.TransferExceedsDebits:
		return domain.RejectInsufficientFunds
	case types.TransferDebitAccountNotFound, types.TransferCreditAccountNotFound:
		return domain.RejectUnknownAccount
	case types.TransferExists:
		return domain.RejectDuplicate
	case types.TransferPendingTransferNotFound:
		return domain.RejectPendingNotFound
	case types.TransferPendingTransferAlreadyPosted:
		return domain.RejectAlreadyPosted
	case types.TransferPendingTransferAlreadyVoided:
		return domain.RejectAlreadyVoided
	case types.TransferPendingTransferExpired:
		return domain.RejectExpired
	}
	return domain.RejectOther
}

func toUint128(v *big.Int) (types.Uint128, error) {
	id, err := domain.IDFromBigInt(v)
	if err != nil {
		return types.Uint128{}, domain.ErrInvalidAmount
	}
	return types.Uint128(id), nil
}

func accountFlags(f domain.AccountFlags) uint16 {
	if f.DebitsMustNotExceedCredits {
		return flagNoOverdraft
	}
	return 0
}

func transferFlags(m domain.TransferMode) uint16 {
	switch m {
	case domain.TransferPending:
		return flagPending
	case domain.TransferPostPending:
		return flagPost
	case domain.TransferVoidPending:
		return flagVoid
	}
	return 0
}

func transferMode(flags uint16) domain.TransferMode {
	switch {
	case flags&flagPost != 0:
		return domain.TransferPostPending
	case flags&flagVoid != 0:
		return domain.TransferVoidPending
	case flags&flagPending != 0:
		return domain.TransferPending
	}
	return domain.TransferPlain
}

func toDomainAccount(a types.Account) *domain.Account {
	return &domain.Account{
		ID:             domain.ID(a.ID),
		Ledger:         a.Ledger,
		Code:           a.Code,
		Flags:          domain.AccountFlags{DebitsMustNotExceedCredits: a.Flags&flagNoOverdraft != 0},
		DebitsPending:  domain.ID(a.DebitsPending).BigInt(),
		DebitsPosted:   domain.ID(a.DebitsPosted).BigInt(),
		CreditsPending: domain.ID(a.CreditsPending).BigInt(),
		CreditsPosted:  domain.ID(a.CreditsPosted).BigInt(),
		Timestamp:      a.Timestamp,
	}
}

func toDomainTransfer(t types.Transfer) *domain.Transfer {
	return &domain.Transfer{
		ID:              domain.ID(t.ID),
		DebitAccountID:  domain.ID(t.DebitAccountID),
		CreditAccountID: domain.ID(t.CreditAccountID),
		Amount:          domain.ID(t.Amount).BigInt(),
		PendingID:       domain.ID(t.PendingID),
		Ledger:          t.Ledger,
		Code:            t.Code,
		Mode:            transferMode(t.Flags),
		TimeoutSeconds:  t.Timeout,
		Timestamp:       t.Timestamp,
	}
}
