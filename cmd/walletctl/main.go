// walletctl is the operator CLI for wallet maintenance: merging wallets and
// moving money between them without going through the service API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"ledgerd/internal/budget"
	"ledgerd/internal/config"
	"ledgerd/internal/core"
	"ledgerd/internal/ledger"
	"ledgerd/internal/log"
	"ledgerd/internal/rates"
	"ledgerd/internal/services"
	"ledgerd/internal/storage"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: "walletctl",
	})
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open repository:", err)
		os.Exit(1)
	}
	defer repo.Close()

	walletLedger := ledger.New(repo, cfg.LockWaitTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "merge":
		err = runMerge(ctx, cfg, repo, walletLedger, os.Args[2:])
	case "transfer":
		err = runTransfer(ctx, repo, walletLedger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err, "("+core.ErrorCode(err)+")")
		os.Exit(1)
	}
}

func runMerge(ctx context.Context, cfg *config.Config, repo *storage.SQLiteRepository, walletLedger *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	owner := fs.Int64("owner", 0, "wallet owner id")
	source := fs.Int64("source", 0, "wallet to fold into the target")
	target := fs.Int64("target", 0, "surviving wallet")
	force := fs.Bool("force", false, "merge even when active budgets reference the source wallet")
	fs.Parse(args)

	if *owner == 0 || *source == 0 || *target == 0 {
		return fmt.Errorf("owner, source and target are required: %w", core.ErrInvalidReference)
	}

	rateSource := rates.NewClient(cfg.RatesAPIURL, cfg.RatesCacheTTL)
	svc := services.NewMergeService(repo, walletLedger, rateSource)

	res, err := svc.Merge(ctx, *owner, *source, *target, *force)
	if err != nil {
		return err
	}

	fmt.Printf("merged wallet %d into %d\n", *source, res.TargetID)
	if res.Converted {
		fmt.Printf("converted at rate %s\n", res.Rate)
	}
	fmt.Printf("reassigned %d transactions, target balance %s\n", res.Reassigned, res.TargetBalance)
	return nil
}

func runTransfer(ctx context.Context, repo *storage.SQLiteRepository, walletLedger *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	user := fs.Int64("user", 0, "acting user id")
	from := fs.Int64("from", 0, "source wallet")
	to := fs.Int64("to", 0, "target wallet")
	category := fs.Int64("category", 0, "category for the paired transactions")
	amount := fs.String("amount", "", "amount to move")
	note := fs.String("note", "", "optional note")
	fs.Parse(args)

	if *user == 0 || *from == 0 || *to == 0 || *category == 0 {
		return fmt.Errorf("user, from, to and category are required: %w", core.ErrInvalidReference)
	}
	parsed, err := core.ParseAmount(*amount)
	if err != nil {
		return err
	}

	svc := services.NewTransactionService(repo, walletLedger, budget.NewEvaluator(repo), nil)
	if err := svc.TransferMoney(ctx, *user, *from, *to, *category, parsed, *note); err != nil {
		return err
	}

	fmt.Printf("moved %s from wallet %d to wallet %d\n", parsed.Round(2), *from, *to)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: walletctl <command> [flags]

commands:
  merge     fold one wallet into another, converting currency when needed
  transfer  move money between two same-currency wallets`)
}
