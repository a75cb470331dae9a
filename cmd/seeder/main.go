package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/ledger"
	"github.com/punchamoorthee/walletops/internal/logging"
)

const (
	TotalWallets   = 1000
	InitialBalance = 10000 // $100.00
)

func main() {
	var (
		addresses string
		clusterID uint64
		count     int
		balance   int64
		out       string
	)
	flag.StringVar(&addresses, "tb", envOr("TB_ADDRESS", "3000"), "Comma-separated TigerBeetle replica addresses")
	flag.Uint64Var(&clusterID, "cluster", 0, "TigerBeetle cluster id")
	flag.IntVar(&count, "wallets", TotalWallets, "Number of wallets to create")
	flag.Int64Var(&balance, "balance", InitialBalance, "Posted balance of each wallet, in minor units")
	flag.StringVar(&out, "out", "wallets.txt", "File receiving the created wallet ids, one per line")
	flag.Parse()

	logger, err := logging.New(envOr("ENVIRONMENT", "development"), envOr("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	lc, err := ledger.Dial(clusterID, strings.Split(addresses, ","), logger)
	if err != nil {
		logger.Fatal("unable to reach ledger", zap.Error(err))
	}
	defer lc.Close()

	ids, err := seed(context.Background(), lc, count, balance)
	if err != nil {
		logger.Fatal("seeding failed", zap.Int("created", len(ids)), zap.Error(err))
	}

	if err := writeIDs(out, ids); err != nil {
		logger.Fatal("unable to write wallet ids", zap.Error(err))
	}
	logger.Info("seeded wallets", zap.Int("count", len(ids)), zap.Int64("balance", balance), zap.String("out", out))
}

// Seeder is the ledger surface the seeder drives.
type Seeder interface {
	EnsureAccount(ctx context.Context, id domain.ID, ledger uint32, code uint16, flags domain.AccountFlags) (*domain.Account, error)
	CreateAccount(ctx context.Context, id domain.ID, ledger uint32, code uint16, flags domain.AccountFlags) (*domain.Account, error)
	CreateTransfer(ctx context.Context, req ledger.TransferRequest) (*domain.Transfer, error)
	GenerateID() domain.ID
}

// seed creates count wallets and funds each with a posted transfer from the
// system account, skipping the settlement delay real deposits go through.
func seed(ctx context.Context, lc Seeder, count int, balance int64) ([]domain.ID, error) {
	if _, err := lc.EnsureAccount(ctx, domain.SystemAccountID, domain.SystemLedger, domain.SystemCode, domain.AccountFlags{}); err != nil {
		return nil, fmt.Errorf("system account: %w", err)
	}

	ids := make([]domain.ID, 0, count)
	for i := 0; i < count; i++ {
		id := lc.GenerateID()
		if _, err := lc.CreateAccount(ctx, id, domain.WalletLedger, domain.WalletCode, domain.AccountFlags{DebitsMustNotExceedCredits: true}); err != nil {
			return ids, err
		}
		if balance > 0 {
			_, err := lc.CreateTransfer(ctx, ledger.TransferRequest{
				ID:              lc.GenerateID(),
				DebitAccountID:  domain.SystemAccountID,
				CreditAccountID: id,
				Amount:          big.NewInt(balance),
				Mode:            domain.TransferPlain,
				Ledger:          domain.WalletLedger,
				Code:            domain.TransferCode,
			})
			if err != nil {
				return ids, err
			}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func writeIDs(path string, ids []domain.ID) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, id := range ids {
		fmt.Fprintln(w, id.String())
	}
	return w.Flush()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
