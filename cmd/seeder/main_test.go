package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/ledger"
	"github.com/punchamoorthee/walletops/internal/ledger/ledgertest"
)

func TestSeed(t *testing.T) {
	lc := ledger.New(ledgertest.NewEngine(), zaptest.NewLogger(t))
	defer lc.Close()
	ctx := context.Background()

	ids, err := seed(ctx, lc, 3, 500)
	if err != nil {
		t.Fatalf("seed() error: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("seed() created %d wallets; want 3", len(ids))
	}
	for _, id := range ids {
		acct, err := lc.GetAccount(ctx, id)
		if err != nil || acct == nil {
			t.Fatalf("GetAccount(%s) = %v, %v", id, acct, err)
		}
		b := acct.Balance()
		if b.Available.Int64() != 500 || b.Pending.Sign() != 0 {
			t.Errorf("wallet %s balance = %s/%s; want 500/0", id, b.Available, b.Pending)
		}
	}

	// A second run reuses the system account.
	if _, err := seed(ctx, lc, 1, 0); err != nil {
		t.Fatalf("second seed() error: %v", err)
	}
	sys, _ := lc.GetAccount(ctx, domain.SystemAccountID)
	if sys.DebitsPosted.Int64() != 1500 {
		t.Errorf("system debits_posted = %s; want 1500", sys.DebitsPosted)
	}
}

func TestWriteIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.txt")
	ids := []domain.ID{domain.MustParseID("1"), domain.MustParseID("340282366920938463463374607431768211455")}
	if err := writeIDs(path, ids); err != nil {
		t.Fatalf("writeIDs() error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Fields(string(b))
	if len(got) != 2 || got[0] != "1" || got[1] != "340282366920938463463374607431768211455" {
		t.Errorf("file = %q", got)
	}
}
