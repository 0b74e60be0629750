package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/lotpay/lotpay/bank"
	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/ledger"
	"github.com/lotpay/lotpay/logging"
	"github.com/lotpay/lotpay/merchant"
	"github.com/lotpay/lotpay/vrf"
	"github.com/lotpay/lotpay/wallet"
)

const merchantID = "lotsim-merchant"

const (
	ledgerRetries           = 3
	ledgerBackoff           = time.Second
	ledgerBackoffMultiplier = 2
)

// runSimulation issues a single check and spends it in cfg.Transactions
// payments fanned out over cfg.Workers workers. Every payment runs the full
// path: the wallet signs it, the merchant verifies it and deposits winning
// ones at the bank. Afterwards the check is revoked and the books are
// audited; an error is returned when they don't balance.
func runSimulation(ctx context.Context, cfg *Config) error {
	logger := logging.FromContext(ctx)

	if cfg.Transactions <= 0 || cfg.Workers <= 0 {
		return fmt.Errorf("transactions and workers must be positive, got %d and %d", cfg.Transactions, cfg.Workers)
	}
	if cfg.WinProbability <= 0 || cfg.WinProbability > 1 {
		return fmt.Errorf("win probability must be in (0, 1], got %v", cfg.WinProbability)
	}
	if cfg.CheckValue == 0 {
		return errors.New("check value must be positive")
	}

	var db ledger.Ledger
	if cfg.MemoryLedger {
		db = ledger.NewMemory()
	} else {
		ldb, err := ledger.OpenLevelDB(ctx, filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		db = ldb
	}
	db = ledger.NewRetrying(db, ledgerRetries, ledgerBackoff, ledgerBackoffMultiplier)
	defer func() {
		if err := db.Close(); err != nil {
			logger.With(zap.Error(err)).Error("failed to close ledger")
		}
	}()

	key, err := bankKey(ctx, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading bank key: %w", err)
	}
	b, err := bank.New(ctx, db, bank.WithPrivateKey(key), bank.WithConfig(*cfg.Bank))
	if err != nil {
		return fmt.Errorf("creating bank: %w", err)
	}
	logger.Info("bank is up", zap.Binary("pubkey", b.PublicKey()), zap.Object("config", cfg.Bank))

	scheme := vrf.New()
	payer, err := wallet.Generate(scheme)
	if err != nil {
		return fmt.Errorf("creating wallet: %w", err)
	}
	m, err := merchant.New(scheme, merchant.Config{
		BankPubKey: merchant.Base64Enc(b.PublicKey()),
		ContextID:  merchantID,
	})
	if err != nil {
		return fmt.Errorf("creating merchant: %w", err)
	}

	// The merchant account persists across runs on the same data directory,
	// so the audit below works with balance deltas.
	merchantBefore, err := b.Balance(ctx, m.ContextID())
	if err != nil {
		return fmt.Errorf("reading merchant balance: %w", err)
	}

	if err := b.Deposit(ctx, payer.PublicKey(), cfg.CheckValue); err != nil {
		return fmt.Errorf("depositing: %w", err)
	}
	threshold := uint64(cfg.WinProbability * float64(vrf.MaxOutput))
	req, err := payer.NewIssuanceRequest(cfg.CheckValue, threshold)
	if err != nil {
		return fmt.Errorf("building issuance request: %w", err)
	}
	chk, err := b.IssueCheck(ctx, req)
	if err != nil {
		return fmt.Errorf("issuing check: %w", err)
	}
	logger.Info(
		"issued check",
		zap.Stringer("serial", chk.Serial),
		zap.Uint64("value", chk.Value),
		zap.Uint64("win_threshold", chk.WinThreshold),
	)

	start := time.Now()

	var (
		mu       sync.Mutex
		outcomes = make(map[string]int)
		credited uint64
	)
	tally := func(outcome string) {
		mu.Lock()
		defer mu.Unlock()
		outcomes[outcome]++
	}

	eg, egCtx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	eg.Go(func() error {
		defer close(jobs)
		for i := 0; i < cfg.Transactions; i++ {
			select {
			case jobs <- i:
			case <-egCtx.Done():
				return egCtx.Err()
			}
		}
		return nil
	})
	for worker := 0; worker < cfg.Workers; worker++ {
		eg.Go(func() error {
			for range jobs {
				tx, err := payer.Pay(chk, m.ContextID())
				if err != nil {
					return fmt.Errorf("paying: %w", err)
				}

				err = m.VerifyTransaction(egCtx, chk, tx)
				switch {
				case errors.Is(err, check.ErrNotWinning):
					tally("lost")
					continue
				case err != nil:
					// The merchant must accept every honest payment.
					return fmt.Errorf("merchant rejected transaction %d: %w", tx.Counter, err)
				}

				res, err := b.Redeem(egCtx, chk, tx, m.ContextID())
				switch {
				case errors.Is(err, bank.ErrLiabilityExceeded):
					tally("liability_exceeded")
					continue
				case err != nil:
					// The bank must accept every merchant-verified win
					// until the check's value runs out.
					return fmt.Errorf("redeeming transaction %d: %w", tx.Counter, err)
				}
				tally("redeemed")

				mu.Lock()
				credited += res.Amount
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	wins := outcomes["redeemed"] + outcomes["liability_exceeded"]
	logger.Sugar().Infof(
		"ran %d payments in %v: %d won (%.2f%% observed, %.2f%% expected), %d credited to the merchant",
		cfg.Transactions,
		elapsed.Round(time.Millisecond),
		wins,
		100*float64(wins)/float64(cfg.Transactions),
		100*cfg.WinProbability,
		credited,
	)
	names := maps.Keys(outcomes)
	slices.Sort(names)
	for _, name := range names {
		logger.Sugar().Infof("  %s: %d", name, outcomes[name])
	}

	// Settle and audit the books. Revoking returns the unspent remainder to
	// the payer, after which every token deposited must sit in either the
	// payer's or the merchant's account.
	cum, err := db.CumulativeRedeemedValue(ctx, chk.Serial)
	if err != nil {
		return fmt.Errorf("reading cumulative redeemed value: %w", err)
	}
	if cum != credited {
		return fmt.Errorf("books diverge: merchant was credited %d, ledger recorded %d", credited, cum)
	}
	if cum > chk.Value {
		return fmt.Errorf("liability bound broken: redeemed %d of a %d check", cum, chk.Value)
	}
	merchantBalance, err := b.Balance(ctx, m.ContextID())
	if err != nil {
		return fmt.Errorf("reading merchant balance: %w", err)
	}
	if merchantBalance-merchantBefore != credited {
		return fmt.Errorf("merchant balance grew by %d, expected %d", merchantBalance-merchantBefore, credited)
	}
	refund, err := b.RevokeCheck(ctx, chk.Serial)
	if err != nil {
		return fmt.Errorf("revoking check: %w", err)
	}
	payerBalance, err := b.Balance(ctx, payer.PublicKey())
	if err != nil {
		return fmt.Errorf("reading payer balance: %w", err)
	}
	if payerBalance != refund || payerBalance+credited != cfg.CheckValue {
		return fmt.Errorf(
			"conservation broken: payer refund %d + merchant credit %d != deposited %d",
			payerBalance, credited, cfg.CheckValue,
		)
	}
	logger.Sugar().Infof("books balance: %d redeemed by the merchant, %d refunded to the payer", credited, refund)

	return nil
}
