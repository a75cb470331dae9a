package store_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/settlement"
	"github.com/punchamoorthee/walletops/internal/store"
)

func newBoltStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleOp(id string, due time.Time) domain.PendingOperation {
	return domain.PendingOperation{
		ID:                domain.MustParseID(id),
		Kind:              domain.KindWithdrawal,
		WalletID:          domain.MustParseID("1001"),
		PendingTransferID: domain.MustParseID(id + "9"),
		Amount:            big.NewInt(30),
		State:             domain.StateOpen,
		CreatedAt:         due.Add(-5 * time.Second),
		DueAt:             due,
		ExpiresAt:         due.Add(5 * time.Second),
	}
}

// exerciseStore runs the behavior every settlement store must share.
func exerciseStore(t *testing.T, s settlement.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("get missing", func(t *testing.T) {
		if _, err := s.Get(ctx, domain.MustParseID("404")); !errors.Is(err, settlement.ErrNotFound) {
			t.Fatalf("Get() error = %v; want ErrNotFound", err)
		}
	})

	t.Run("save and get", func(t *testing.T) {
		op := sampleOp("11", base)
		if err := s.Save(ctx, op); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		got, err := s.Get(ctx, op.ID)
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if got.ID != op.ID || got.WalletID != op.WalletID || got.PendingTransferID != op.PendingTransferID {
			t.Errorf("ids = %s/%s/%s", got.ID, got.WalletID, got.PendingTransferID)
		}
		if got.Amount.Cmp(op.Amount) != 0 {
			t.Errorf("Amount = %s; want %s", got.Amount, op.Amount)
		}
		if got.Kind != op.Kind || got.State != op.State {
			t.Errorf("kind/state = %s/%s", got.Kind, got.State)
		}
		if !got.DueAt.Equal(op.DueAt) || !got.ExpiresAt.Equal(op.ExpiresAt) {
			t.Errorf("due/expires = %v/%v; want %v/%v", got.DueAt, got.ExpiresAt, op.DueAt, op.ExpiresAt)
		}
	})

	t.Run("save upserts", func(t *testing.T) {
		op := sampleOp("12", base)
		if err := s.Save(ctx, op); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		op.State = domain.StateAbandoned
		op.Attempts = 3
		op.LastError = "pending_transfer_expired"
		if err := s.Save(ctx, op); err != nil {
			t.Fatalf("Save() update error: %v", err)
		}
		got, err := s.Get(ctx, op.ID)
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if got.State != domain.StateAbandoned || got.Attempts != 3 || got.LastError != "pending_transfer_expired" {
			t.Errorf("updated op = %+v", got)
		}
	})

	t.Run("list ordered by due", func(t *testing.T) {
		for _, op := range []domain.PendingOperation{
			sampleOp("23", base.Add(3*time.Second)),
			sampleOp("21", base.Add(1*time.Second)),
			sampleOp("22", base.Add(2*time.Second)),
		} {
			if err := s.Save(ctx, op); err != nil {
				t.Fatalf("Save() error: %v", err)
			}
		}
		ops, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List() error: %v", err)
		}
		for i := 1; i < len(ops); i++ {
			if ops[i].DueAt.Before(ops[i-1].DueAt) {
				t.Fatalf("List() not ordered at %d: %v before %v", i, ops[i].DueAt, ops[i-1].DueAt)
			}
		}
	})

	t.Run("delete", func(t *testing.T) {
		op := sampleOp("31", base)
		if err := s.Save(ctx, op); err != nil {
			t.Fatalf("Save() error: %v", err)
		}
		if err := s.Delete(ctx, op.ID); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if _, err := s.Get(ctx, op.ID); !errors.Is(err, settlement.ErrNotFound) {
			t.Fatalf("Get() after delete error = %v; want ErrNotFound", err)
		}
		if err := s.Delete(ctx, op.ID); err != nil {
			t.Fatalf("Delete() of missing id error: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, store.NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	op := sampleOp("41", time.Now())
	if err := s.Save(ctx, op); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	op.Amount.SetInt64(999)

	got, _ := s.Get(ctx, op.ID)
	if got.Amount.Int64() != 30 {
		t.Errorf("stored Amount = %s; want 30", got.Amount)
	}
}

func TestBoltStore(t *testing.T) {
	exerciseStore(t, newBoltStore(t))
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()
	op := sampleOp("51", time.Now().UTC())

	s, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}
	if err := s.Save(ctx, op); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	s.Close()

	s, err = store.NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer s.Close()

	ops, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != op.ID {
		t.Fatalf("List() after reopen = %+v; want the saved operation", ops)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set")
	}
	ctx := context.Background()
	s, err := store.NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	defer s.Close()
	if _, err := s.Db.Exec(ctx, "TRUNCATE pending_operations"); err != nil {
		t.Fatalf("truncate error: %v", err)
	}
	exerciseStore(t, s)
}
