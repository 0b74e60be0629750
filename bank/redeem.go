package bank

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/ledger"
	"github.com/lotpay/lotpay/logging"
)

var (
	redemptionsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lotpay",
		Subsystem: "bank",
		Name:      "redemptions_total",
		Help:      "Redemption attempts by result",
	}, []string{"result"})

	redeemLatencyMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lotpay",
		Subsystem: "bank",
		Name:      "redeem_latency_seconds",
		Help:      "Latency of redemption attempts",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 1.5, 20),
	})
)

// RedemptionResult reports a settled winning transaction.
type RedemptionResult struct {
	Serial   check.Serial
	Counter  uint64
	Merchant []byte
	// Amount is the payout credited to the merchant's account.
	Amount uint64
	// Cumulative is the total redeemed under the serial, this win included.
	Cumulative uint64
}

// Redeem settles a winning transaction deposited by a merchant. The
// verification order is fixed: certificate, books, proof, win, duplicate,
// liability. Nothing is written unless every step passes; the final
// insert credits the merchant atomically with marking (serial, counter)
// redeemed.
func (b *Bank) Redeem(
	ctx context.Context,
	chk *check.Check,
	tx *check.Transaction,
	merchantID []byte,
) (result *RedemptionResult, err error) {
	start := time.Now()
	defer func() {
		redeemLatencyMetric.Observe(time.Since(start).Seconds())
		redemptionsMetric.WithLabelValues(redemptionResultLabel(err)).Inc()
	}()

	if len(merchantID) == 0 || len(merchantID) > check.MaxContextSize {
		return nil, fmt.Errorf("%w: merchant id must be between 1 and %d bytes", ErrInvalidParameters, check.MaxContextSize)
	}

	if err := check.VerifyCertificate(chk, b.PublicKey()); err != nil {
		return nil, err
	}

	rec, err := b.db.Issuance(ctx, chk.Serial)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrUnknownSerial, chk.Serial)
	case err != nil:
		return nil, err
	}
	if rec.Revoked {
		return nil, fmt.Errorf("%w: %s", ErrCheckRevoked, chk.Serial)
	}
	if rec.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s expired at %s", ErrCheckExpired, chk.Serial, rec.ExpiresAt)
	}
	if !bytes.Equal(rec.PayerPubKey, chk.PayerPubKey) || rec.Value != chk.Value || rec.WinThreshold != chk.WinThreshold {
		return nil, fmt.Errorf("%w: check %s does not match the books", check.ErrBadCertificate, chk.Serial)
	}

	if tx.Serial != chk.Serial {
		return nil, fmt.Errorf("%w: transaction serial %s does not match check serial %s", check.ErrBadProof, tx.Serial, chk.Serial)
	}
	if !bytes.Equal(tx.Context, merchantID) {
		return nil, fmt.Errorf("%w: transaction is not bound to the depositing merchant", check.ErrBadProof)
	}
	verifier, err := b.scheme.NewVerifier(rec.PayerPubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", check.ErrBadProof, err)
	}
	msg, err := tx.Message()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", check.ErrBadProof, err)
	}
	output, err := verifier.Verify(msg, tx.Proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", check.ErrBadProof, err)
	}
	if output != tx.Output {
		return nil, fmt.Errorf("%w: claimed output %d, proof yields %d", check.ErrBadProof, tx.Output, output)
	}

	if !tx.Winning(rec.WinThreshold) {
		return nil, fmt.Errorf("%w: output %d is not below threshold %d", check.ErrNotWinning, output, rec.WinThreshold)
	}

	// The duplicate and liability checks and the insert must be one
	// unit per serial; the lock makes them so.
	unlock := b.locks.lock(chk.Serial)
	defer unlock()

	redeemed, err := b.db.RedemptionExists(ctx, chk.Serial, tx.Counter)
	if err != nil {
		return nil, err
	}
	if redeemed {
		return nil, fmt.Errorf("%w: %s counter %d", ledger.ErrAlreadyRedeemed, chk.Serial, tx.Counter)
	}

	cum, err := b.db.CumulativeRedeemedValue(ctx, chk.Serial)
	if err != nil {
		return nil, err
	}
	payout := b.cfg.WinPayout
	if cum+payout > rec.Value {
		return nil, fmt.Errorf("%w: redeemed %d of %d, next payout is %d", ErrLiabilityExceeded, cum, rec.Value, payout)
	}

	if err := b.db.TryInsertRedemption(ctx, ledger.RedemptionEntry{
		Serial:     chk.Serial,
		Counter:    tx.Counter,
		Merchant:   merchantID,
		Amount:     payout,
		RedeemedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug(
		"redeemed winning transaction",
		zap.Stringer("serial", chk.Serial),
		zap.Uint64("counter", tx.Counter),
		zap.Binary("merchant", merchantID),
		zap.Uint64("amount", payout),
	)
	return &RedemptionResult{
		Serial:     chk.Serial,
		Counter:    tx.Counter,
		Merchant:   merchantID,
		Amount:     payout,
		Cumulative: cum + payout,
	}, nil
}

func redemptionResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, check.ErrBadCertificate):
		return "bad_certificate"
	case errors.Is(err, check.ErrBadProof):
		return "bad_proof"
	case errors.Is(err, check.ErrNotWinning):
		return "not_winning"
	case errors.Is(err, ledger.ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, ErrLiabilityExceeded):
		return "liability_exceeded"
	case errors.Is(err, ErrUnknownSerial):
		return "unknown_serial"
	case errors.Is(err, ErrCheckRevoked):
		return "revoked"
	case errors.Is(err, ErrCheckExpired):
		return "expired"
	default:
		return "error"
	}
}
