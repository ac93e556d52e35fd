package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"ledgerd/internal/core"
	"ledgerd/internal/rates"
	"ledgerd/internal/storage"
)

// MergeStore is the persistence surface for wallet merge.
type MergeStore interface {
	GetWallet(ctx context.Context, walletID int64) (*core.Wallet, error)
	IsWalletOwner(ctx context.Context, walletID, userID int64) (bool, error)
	WalletHasActiveBudgets(ctx context.Context, walletID int64) (bool, error)
	MergeWallets(ctx context.Context, p storage.MergeParams) (int64, error)
}

// PairLocker takes both wallet locks in a fixed global order for the
// duration of the merge.
type PairLocker interface {
	LockPair(ctx context.Context, a, b int64) (release func(), err error)
}

type MergeService struct {
	store MergeStore
	locks PairLocker
	rates rates.Source
}

func NewMergeService(store MergeStore, locks PairLocker, rateSource rates.Source) *MergeService {
	return &MergeService{
		store: store,
		locks: locks,
		rates: rateSource,
	}
}

// MergeResult summarizes a completed merge.
type MergeResult struct {
	TargetID      int64
	TargetBalance decimal.Decimal
	Rate          decimal.Decimal
	Converted     bool
	Reassigned    int64
}

// Merge folds the source wallet into the target: the source balance is
// converted at the current exchange rate when the currencies differ, its
// transaction history moves to the target with the original amounts
// preserved, and the source wallet is removed. Both wallets stay locked for
// the whole operation, and nothing is mutated until the rate is known.
//
// A source wallet referenced by active budgets is refused unless force is
// set; those budgets keep their wallet scope and simply stop matching new
// spending.
func (s *MergeService) Merge(ctx context.Context, ownerID, sourceID, targetID int64, force bool) (*MergeResult, error) {
	if sourceID == targetID {
		return nil, fmt.Errorf("merge wallet into itself: %w", core.ErrInvalidReference)
	}

	for _, id := range []int64{sourceID, targetID} {
		owner, err := s.store.IsWalletOwner(ctx, id, ownerID)
		if err != nil {
			return nil, fmt.Errorf("check wallet owner: %w", err)
		}
		if !owner {
			return nil, core.ErrForbidden
		}
	}

	if !force {
		inUse, err := s.store.WalletHasActiveBudgets(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("check source budgets: %w", err)
		}
		if inUse {
			return nil, core.ErrWalletInUse
		}
	}

	release, err := s.locks.LockPair(ctx, sourceID, targetID)
	if err != nil {
		return nil, err
	}
	defer release()

	source, err := s.store.GetWallet(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source wallet: %w", err)
	}
	target, err := s.store.GetWallet(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load target wallet: %w", err)
	}

	converted := source.Currency != target.Currency
	rate := decimal.NewFromInt(1)
	if converted {
		rate, err = s.rates.Rate(ctx, source.Currency, target.Currency)
		if err != nil {
			return nil, fmt.Errorf("rate %s to %s: %w", source.Currency, target.Currency, err)
		}
	}

	targetBalance := target.Balance.Add(core.Quantize(source.Balance.Mul(rate)))
	reassigned, err := s.store.MergeWallets(ctx, storage.MergeParams{
		SourceID:          sourceID,
		TargetID:          targetID,
		TargetBalance:     targetBalance,
		Rate:              rate,
		SourceCurrency:    source.Currency,
		Converted:         converted,
		MakeTargetDefault: source.Default,
	})
	if err != nil {
		return nil, fmt.Errorf("merge wallets: %w", err)
	}

	slog.InfoContext(ctx, "Wallet merge completed",
		"owner_id", ownerID,
		"source_wallet", sourceID,
		"target_wallet", targetID,
		"rate", rate,
		"target_balance", targetBalance)

	return &MergeResult{
		TargetID:      targetID,
		TargetBalance: targetBalance,
		Rate:          rate,
		Converted:     converted,
		Reassigned:    reassigned,
	}, nil
}
