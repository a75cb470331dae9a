package domain

import "math/big"

// Balance is the client-facing view of a wallet account.
type Balance struct {
	// Available is what the wallet can commit to a new withdrawal.
	Available *big.Int
	// Pending is held by withdrawals that have not settled yet.
	Pending *big.Int
}

// Balance derives the wallet view from the raw ledger counters:
// available = credits_posted - debits_posted - debits_pending, pending = debits_pending.
func (a *Account) Balance() Balance {
	available := new(big.Int).Set(orZero(a.CreditsPosted))
	available.Sub(available, orZero(a.DebitsPosted))
	available.Sub(available, orZero(a.DebitsPending))
	return Balance{
		Available: available,
		Pending:   new(big.Int).Set(orZero(a.DebitsPending)),
	}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
