package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/settlement"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_operations (
	id                  TEXT PRIMARY KEY,
	kind                TEXT NOT NULL,
	wallet_id           TEXT NOT NULL,
	pending_transfer_id TEXT NOT NULL,
	amount              TEXT NOT NULL,
	state               TEXT NOT NULL,
	attempts            INTEGER NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL,
	due_at              TIMESTAMPTZ NOT NULL,
	expires_at          TIMESTAMPTZ NOT NULL,
	last_error          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS pending_operations_due_at_idx ON pending_operations (due_at)`

// PostgresStore keeps the settlement schedule in Postgres.
type PostgresStore struct {
	Db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to create schema: %w", err)
	}

	return &PostgresStore{Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

// Save upserts the operation.
func (s *PostgresStore) Save(ctx context.Context, op domain.PendingOperation) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO pending_operations
			(id, kind, wallet_id, pending_transfer_id, amount, state, attempts, created_at, due_at, expires_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			due_at = excluded.due_at,
			last_error = excluded.last_error`,
		op.ID.String(), string(op.Kind), op.WalletID.String(), op.PendingTransferID.String(),
		amountText(op.Amount), string(op.State), op.Attempts, op.CreatedAt, op.DueAt, op.ExpiresAt, op.LastError,
	)
	if err != nil {
		return fmt.Errorf("saving pending operation: %w", err)
	}
	return nil
}

// Get retrieves a single operation by ID.
func (s *PostgresStore) Get(ctx context.Context, id domain.ID) (domain.PendingOperation, error) {
	row := s.Db.QueryRow(ctx, selectOperations+" WHERE id = $1", id.String())
	op, err := scanOperation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PendingOperation{}, settlement.ErrNotFound
	}
	return op, err
}

// List returns every stored operation ordered by due time.
func (s *PostgresStore) List(ctx context.Context) ([]domain.PendingOperation, error) {
	rows, err := s.Db.Query(ctx, selectOperations+" ORDER BY due_at")
	if err != nil {
		return nil, fmt.Errorf("listing pending operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.ID) error {
	_, err := s.Db.Exec(ctx, "DELETE FROM pending_operations WHERE id = $1", id.String())
	return err
}

const selectOperations = `SELECT id, kind, wallet_id, pending_transfer_id, amount, state, attempts,
	created_at, due_at, expires_at, last_error FROM pending_operations`

func scanOperation(row pgx.Row) (domain.PendingOperation, error) {
	var (
		op                              domain.PendingOperation
		id, walletID, pendingID, amount string
		kind, state                     string
	)
	err := row.Scan(&id, &kind, &walletID, &pendingID, &amount, &state, &op.Attempts,
		&op.CreatedAt, &op.DueAt, &op.ExpiresAt, &op.LastError)
	if err != nil {
		return op, err
	}

	op.Kind = domain.OperationKind(kind)
	op.State = domain.OperationState(state)
	if op.ID, err = domain.ParseID(id); err != nil {
		return op, fmt.Errorf("operation id %q: %w", id, err)
	}
	if op.WalletID, err = domain.ParseID(walletID); err != nil {
		return op, fmt.Errorf("wallet id %q: %w", walletID, err)
	}
	if op.PendingTransferID, err = domain.ParseID(pendingID); err != nil {
		return op, fmt.Errorf("pending transfer id %q: %w", pendingID, err)
	}
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return op, fmt.Errorf("amount %q: %w", amount, domain.ErrInvalidAmount)
	}
	op.Amount = v
	return op, nil
}

func amountText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
