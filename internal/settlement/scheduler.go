// Package settlement drives pending deposits and withdrawals to completion.
//
// Every operation is persisted in a Store before its timer is armed, so a
// restarted process can Resume the schedule instead of abandoning it. A failed
// post is retried a bounded number of times; operations that cannot settle end
// in the ABANDONED state and stay in the store for inspection.
package settlement

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/events"
)

var ErrNotFound = errors.New("pending operation not found")

var (
	settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_settlements_total",
		Help: "Settlement attempts, labeled by operation kind and outcome",
	}, []string{"kind", "outcome"})

	armedTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wallet_settlement_timers_armed",
		Help: "Settlement timers currently waiting to fire",
	})

	settlementLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_settlement_lag_seconds",
		Help:    "Delay between an operation's due time and its settlement attempt",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// Store persists pending operations. Save is an upsert.
type Store interface {
	Save(ctx context.Context, op domain.PendingOperation) error
	Get(ctx context.Context, id domain.ID) (domain.PendingOperation, error)
	List(ctx context.Context) ([]domain.PendingOperation, error)
	Delete(ctx context.Context, id domain.ID) error
}

// Ledger is what the scheduler needs from the ledger adapter.
type Ledger interface {
	PostPendingTransfer(ctx context.Context, pendingID, newID domain.ID) (*domain.Transfer, error)
	GetTransfer(ctx context.Context, id domain.ID) (*domain.Transfer, error)
	GenerateID() domain.ID
}

// Publisher emits lifecycle events. May be nil.
type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

type RetryPolicy struct {
	MaxAttempts  int
	RetryBackoff time.Duration
}

// postTimeout bounds a single settlement call to the engine.
const postTimeout = 5 * time.Second

type Scheduler struct {
	store     Store
	ledger    Ledger
	publisher Publisher
	policy    RetryPolicy
	log       *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	timers map[domain.ID]armed
	gen    uint64
	closed bool
	wg     sync.WaitGroup
}

type armed struct {
	timer *time.Timer
	gen   uint64
}

func New(store Store, ledger Ledger, publisher Publisher, policy RetryPolicy, logger *zap.Logger) *Scheduler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Scheduler{
		store:     store,
		ledger:    ledger,
		publisher: publisher,
		policy:    policy,
		log:       logger.Named("settlement"),
		now:       time.Now,
		timers:    make(map[domain.ID]armed),
	}
}

// Prepare records an operation in the OPENING state before its pending
// transfer is submitted.
func (s *Scheduler) Prepare(ctx context.Context, op domain.PendingOperation) error {
	op.State = domain.StateOpening
	return s.store.Save(ctx, op)
}

// Discard forgets an operation whose pending transfer was never opened.
func (s *Scheduler) Discard(ctx context.Context, id domain.ID) error {
	return s.store.Delete(ctx, id)
}

// Schedule marks the operation OPEN and arms its timer for op.DueAt.
func (s *Scheduler) Schedule(ctx context.Context, op domain.PendingOperation) error {
	op.State = domain.StateOpen
	if err := s.store.Save(ctx, op); err != nil {
		return err
	}
	s.arm(op)
	return nil
}

// Lookup returns the recorded operation. Settled operations are gone.
func (s *Scheduler) Lookup(ctx context.Context, id domain.ID) (domain.PendingOperation, error) {
	op, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return op, domain.ErrOperationNotFound
	}
	return op, err
}

// Resume re-arms every unfinished operation found in the store. OPENING
// records are resolved against the ledger: kept if the pending transfer
// exists, dropped otherwise. It returns the number of operations armed.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	ops, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	armed := 0
	for _, op := range ops {
		switch op.State {
		case domain.StateOpen, domain.StateSettling:
			s.arm(op)
			armed++
		case domain.StateOpening:
			tr, err := s.ledger.GetTransfer(ctx, op.PendingTransferID)
			if err != nil {
				s.log.Warn("unable to resolve opening operation", zap.Stringer("operation_id", op.ID), zap.Error(err))
				continue
			}
			if tr == nil {
				if err := s.store.Delete(ctx, op.ID); err != nil {
					return armed, err
				}
				s.log.Info("dropped operation whose pending transfer never opened", zap.Stringer("operation_id", op.ID))
				continue
			}
			if err := s.Schedule(ctx, op); err != nil {
				return armed, err
			}
			armed++
		}
	}

	s.log.Info("settlement schedule resumed", zap.Int("armed", armed), zap.Int("records", len(ops)))
	return armed, nil
}

// Close stops armed timers and waits for in-flight settlements. Stopped
// operations stay in the store and are picked up by the next Resume.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, a := range s.timers {
		a.timer.Stop()
		armedTimers.Dec()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) arm(op domain.PendingOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	delay := op.DueAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	id := op.ID
	if old, ok := s.timers[id]; ok {
		old.timer.Stop()
		armedTimers.Dec()
	}
	s.gen++
	gen := s.gen
	s.timers[id] = armed{timer: time.AfterFunc(delay, func() { s.fire(id, gen) }), gen: gen}
	armedTimers.Inc()
}

func (s *Scheduler) fire(id domain.ID, gen uint64) {
	s.mu.Lock()
	// A re-armed operation is left to its newest timer.
	if a, ok := s.timers[id]; s.closed || !ok || a.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	armedTimers.Dec()
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()
	s.settle(ctx, id)
}

func (s *Scheduler) settle(ctx context.Context, id domain.ID) {
	op, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Error("unable to load pending operation", zap.Stringer("operation_id", id), zap.Error(err))
		return
	}
	if op.State.Terminal() {
		return
	}
	settlementLag.Observe(s.now().Sub(op.DueAt).Seconds())

	op.State = domain.StateSettling
	op.Attempts++
	if err := s.store.Save(ctx, op); err != nil {
		s.log.Error("unable to mark operation settling", zap.Stringer("operation_id", id), zap.Error(err))
		s.retryLater(op)
		return
	}

	_, err = s.ledger.PostPendingTransfer(ctx, op.PendingTransferID, s.ledger.GenerateID())
	var rej *domain.TransferRejectedError
	if err == nil || (errors.As(err, &rej) && rej.Kind == domain.RejectAlreadyPosted) {
		s.settled(ctx, op)
		return
	}
	s.failed(ctx, op, err)
}

func (s *Scheduler) settled(ctx context.Context, op domain.PendingOperation) {
	if err := s.store.Delete(ctx, op.ID); err != nil {
		s.log.Error("settled operation could not be removed", zap.Stringer("operation_id", op.ID), zap.Error(err))
	}
	settlementsTotal.WithLabelValues(string(op.Kind), "settled").Inc()
	s.log.Info("pending transfer settled",
		zap.String("kind", string(op.Kind)),
		zap.Stringer("operation_id", op.ID),
		zap.Stringer("pending_transfer_id", op.PendingTransferID),
		zap.Int("attempts", op.Attempts))
	s.publish(ctx, events.SettlementSettled, op)
}

func (s *Scheduler) failed(ctx context.Context, op domain.PendingOperation, cause error) {
	op.LastError = cause.Error()
	next := s.now().Add(s.policy.RetryBackoff)

	var rej *domain.TransferRejectedError
	permanent := errors.As(cause, &rej) && rej.Permanent()
	if permanent || op.Attempts >= s.policy.MaxAttempts || !next.Before(op.ExpiresAt) {
		s.abandon(ctx, op, cause)
		return
	}

	op.State = domain.StateOpen
	op.DueAt = next
	if err := s.store.Save(ctx, op); err != nil {
		s.log.Error("unable to reschedule settlement", zap.Stringer("operation_id", op.ID), zap.Error(err))
		s.retryLater(op)
		return
	}
	settlementsTotal.WithLabelValues(string(op.Kind), "retried").Inc()
	s.log.Warn("settlement failed, retrying",
		zap.Stringer("operation_id", op.ID),
		zap.Int("attempt", op.Attempts),
		zap.Duration("backoff", s.policy.RetryBackoff),
		zap.Error(cause))
	s.arm(op)
}

// retryLater re-arms an operation whose store write failed. Past the engine
// timeout it is left in the store for the next Resume.
func (s *Scheduler) retryLater(op domain.PendingOperation) {
	next := s.now().Add(s.policy.RetryBackoff)
	if !next.Before(op.ExpiresAt) {
		s.log.Warn("settlement not re-armed past engine timeout", zap.Stringer("operation_id", op.ID))
		return
	}
	op.DueAt = next
	s.arm(op)
}

func (s *Scheduler) abandon(ctx context.Context, op domain.PendingOperation, cause error) {
	op.State = domain.StateAbandoned
	if err := s.store.Save(ctx, op); err != nil {
		s.log.Error("unable to record abandoned operation", zap.Stringer("operation_id", op.ID), zap.Error(err))
	}
	settlementsTotal.WithLabelValues(string(op.Kind), "abandoned").Inc()
	s.log.Error("settlement abandoned",
		zap.String("kind", string(op.Kind)),
		zap.Stringer("pending_transfer_id", op.PendingTransferID),
		zap.Error(&domain.SettlementFailedError{OperationID: op.ID, Attempts: op.Attempts, Err: cause}))
	s.publish(ctx, events.SettlementAbandoned, op)
}

func (s *Scheduler) publish(ctx context.Context, eventType string, op domain.PendingOperation) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.WalletEventsStream, eventType, events.SettlementEvent{
		OperationID:       op.ID.String(),
		Kind:              string(op.Kind),
		WalletID:          op.WalletID.String(),
		PendingTransferID: op.PendingTransferID.String(),
		Amount:            op.Amount.String(),
		Attempts:          op.Attempts,
		Error:             op.LastError,
	})
	if err != nil {
		s.log.Warn("unable to publish settlement event", zap.String("type", eventType), zap.Error(err))
	}
}
