// Package ledgertest provides an in-memory engine with the two-phase transfer
// and balance-admission semantics of TigerBeetle, for tests that need a ledger
// without a running cluster.
package ledgertest

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/tigerbeetle/tigerbeetle-go/pkg/types"

	"github.com/punchamoorthee/walletops/internal/domain"
)

var ErrClosed = errors.New("engine closed")

var (
	flagPending     = types.TransferFlags{Pending: true}.ToUint16()
	flagPost        = types.TransferFlags{PostPendingTransfer: true}.ToUint16()
	flagVoid        = types.TransferFlags{VoidPendingTransfer: true}.ToUint16()
	flagNoOverdraft = types.AccountFlags{DebitsMustNotExceedCredits: true}.ToUint16()
)

type pendingState int

const (
	pendingOpen pendingState = iota
	pendingPosted
	pendingVoided
)

// Engine is safe for concurrent use. Every batch is applied atomically.
type Engine struct {
	mu        sync.Mutex
	accounts  map[types.Uint128]types.Account
	transfers map[types.Uint128]types.Transfer
	pending   map[types.Uint128]pendingState
	openedAt  map[types.Uint128]time.Time
	clock     uint64
	closed    bool

	// Now drives pending-transfer expiry. Defaults to time.Now.
	Now func() time.Time
	// BeforeTransfer, when set, runs before each transfer is applied. A non-nil
	// error fails the whole request as a transport error.
	BeforeTransfer func(t types.Transfer) error

	requests int
}

func NewEngine() *Engine {
	return &Engine{
		accounts:  make(map[types.Uint128]types.Account),
		transfers: make(map[types.Uint128]types.Transfer),
		pending:   make(map[types.Uint128]pendingState),
		openedAt:  make(map[types.Uint128]time.Time),
		Now:       time.Now,
	}
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

// Requests counts CreateTransfers calls, including failed ones.
func (e *Engine) Requests() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests
}

// Expire marks a pending transfer as timed out by the engine.
func (e *Engine) Expire(pendingID domain.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openedAt[types.Uint128(pendingID)] = time.Time{}
}

func (e *Engine) CreateAccounts(accounts []types.Account) ([]types.AccountEventResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	var results []types.AccountEventResult
	for i, a := range accounts {
		var result types.CreateAccountResult
		switch {
		case a.Ledger == 0:
			result = types.AccountLedgerMustNotBeZero
		case a.Code == 0:
			result = types.AccountCodeMustNotBeZero
		default:
			if _, ok := e.accounts[a.ID]; ok {
				result = types.AccountExists
			}
		}
		if result != 0 {
			results = append(results, types.AccountEventResult{Index: uint32(i), Result: result})
			continue
		}
		e.clock++
		a.Timestamp = e.clock
		e.accounts[a.ID] = a
	}
	return results, nil
}

func (e *Engine) LookupAccounts(ids []types.Uint128) ([]types.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	var out []types.Account
	for _, id := range ids {
		if a, ok := e.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (e *Engine) LookupTransfers(ids []types.Uint128) ([]types.Transfer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	var out []types.Transfer
	for _, id := range ids {
		if t, ok := e.transfers[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Engine) CreateTransfers(transfers []types.Transfer) ([]types.TransferEventResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++
	if e.closed {
		return nil, ErrClosed
	}

	var results []types.TransferEventResult
	for i, t := range transfers {
		if e.BeforeTransfer != nil {
			if err := e.BeforeTransfer(t); err != nil {
				return nil, err
			}
		}
		if result := e.apply(t); result != 0 {
			results = append(results, types.TransferEventResult{Index: uint32(i), Result: result})
		}
	}
	return results, nil
}

func (e *Engine) apply(t types.Transfer) types.CreateTransferResult {
	if _, ok := e.transfers[t.ID]; ok {
		return types.TransferExists
	}
	if t.Flags&(flagPost|flagVoid) != 0 {
		return e.resolve(t)
	}

	if t.DebitAccountID == t.CreditAccountID {
		return types.TransferAccountsMustBeDifferent
	}
	dr, ok := e.accounts[t.DebitAccountID]
	if !ok {
		return types.TransferDebitAccountNotFound
	}
	cr, ok := e.accounts[t.CreditAccountID]
	if !ok {
		return types.TransferCreditAccountNotFound
	}
	if dr.Ledger != cr.Ledger {
		return types.TransferAccountsMustHaveTheSameLedger
	}

	amount := toBig(t.Amount)
	if dr.Flags&flagNoOverdraft != 0 {
		debits := new(big.Int).Add(toBig(dr.DebitsPending), toBig(dr.DebitsPosted))
		debits.Add(debits, amount)
		if debits.Cmp(toBig(dr.CreditsPosted)) > 0 {
			return types.TransferExceedsCredits
		}
	}

	if t.Flags&flagPending != 0 {
		dr.DebitsPending = add(dr.DebitsPending, amount)
		cr.CreditsPending = add(cr.CreditsPending, amount)
		e.pending[t.ID] = pendingOpen
		e.openedAt[t.ID] = e.Now()
	} else {
		dr.DebitsPosted = add(dr.DebitsPosted, amount)
		cr.CreditsPosted = add(cr.CreditsPosted, amount)
	}
	e.accounts[dr.ID] = dr
	e.accounts[cr.ID] = cr
	e.record(t)
	return 0
}

func (e *Engine) resolve(t types.Transfer) types.CreateTransferResult {
	p, ok := e.transfers[t.PendingID]
	if !ok {
		return types.TransferPendingTransferNotFound
	}
	if p.Flags&flagPending == 0 {
		return types.TransferPendingTransferNotPending
	}
	switch e.pending[t.PendingID] {
	case pendingPosted:
		return types.TransferPendingTransferAlreadyPosted
	case pendingVoided:
		return types.TransferPendingTransferAlreadyVoided
	}
	if p.Timeout > 0 {
		deadline := e.openedAt[t.PendingID].Add(time.Duration(p.Timeout) * time.Second)
		if !e.Now().Before(deadline) {
			e.pending[t.PendingID] = pendingVoided
			e.release(p, false)
			return types.TransferPendingTransferExpired
		}
	}

	if t.Flags&flagPost != 0 {
		e.pending[t.PendingID] = pendingPosted
		e.release(p, true)
	} else {
		e.pending[t.PendingID] = pendingVoided
		e.release(p, false)
	}

	t.DebitAccountID = p.DebitAccountID
	t.CreditAccountID = p.CreditAccountID
	t.Amount = p.Amount
	e.record(t)
	return 0
}

// release moves a pending amount out of the pending counters, into the posted
// counters when post is true.
func (e *Engine) release(p types.Transfer, post bool) {
	amount := toBig(p.Amount)
	dr := e.accounts[p.DebitAccountID]
	cr := e.accounts[p.CreditAccountID]
	dr.DebitsPending = sub(dr.DebitsPending, amount)
	cr.CreditsPending = sub(cr.CreditsPending, amount)
	if post {
		dr.DebitsPosted = add(dr.DebitsPosted, amount)
		cr.CreditsPosted = add(cr.CreditsPosted, amount)
	}
	e.accounts[dr.ID] = dr
	e.accounts[cr.ID] = cr
}

func (e *Engine) record(t types.Transfer) {
	e.clock++
	t.Timestamp = e.clock
	e.transfers[t.ID] = t
}

func toBig(v types.Uint128) *big.Int {
	return domain.ID(v).BigInt()
}

func fromBig(v *big.Int) types.Uint128 {
	id, err := domain.IDFromBigInt(v)
	if err != nil {
		panic(err)
	}
	return types.Uint128(id)
}

func add(a types.Uint128, b *big.Int) types.Uint128 {
	return fromBig(new(big.Int).Add(toBig(a), b))
}

func sub(a types.Uint128, b *big.Int) types.Uint128 {
	return fromBig(new(big.Int).Sub(toBig(a), b))
}
