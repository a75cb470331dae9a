package domain

import (
	"errors"
	"fmt"
	"time"
)

// Policy is the settlement timing for one operation kind. Delay must be
// shorter than the engine timeout or the engine voids the transfer first.
type Policy struct {
	Delay          time.Duration
	TimeoutSeconds uint32
}

var (
	DefaultDepositPolicy    = Policy{Delay: 3 * time.Second, TimeoutSeconds: 5}
	DefaultWithdrawalPolicy = Policy{Delay: 5 * time.Second, TimeoutSeconds: 10}
)

func (p Policy) Validate() error {
	if p.TimeoutSeconds == 0 {
		return errors.New("engine timeout must be positive")
	}
	if p.Delay < 0 {
		return errors.New("settlement delay must not be negative")
	}
	if p.Delay >= p.Timeout() {
		return fmt.Errorf("settlement delay %s must be shorter than engine timeout %ds", p.Delay, p.TimeoutSeconds)
	}
	return nil
}

// Timeout is the engine timeout as a duration.
func (p Policy) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}
