// Package bank implements the issuing side of the protocol: funding payer
// escrow, certifying checks against it and settling redeemed wins.
package bank

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/ledger"
	"github.com/lotpay/lotpay/logging"
	"github.com/lotpay/lotpay/vrf"
)

var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrIssuanceExhausted = errors.New("could not allocate an unused serial")
	ErrUnknownSerial     = errors.New("serial was never issued")
	ErrCheckRevoked      = errors.New("check is revoked")
	ErrCheckExpired      = errors.New("check is expired")
	ErrLiabilityExceeded = errors.New("check liability exhausted")

	checksIssuedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lotpay",
		Subsystem: "bank",
		Name:      "checks_issued_total",
		Help:      "Number of checks issued",
	})
)

// Bank certifies checks against escrowed payer funds and settles winning
// transactions. All durable state lives in the ledger; the bank itself
// holds only its signing key and the per-serial locks.
type Bank struct {
	db      ledger.Ledger
	scheme  vrf.Scheme
	cfg     Config
	privKey ed25519.PrivateKey

	locks *serialLocks
}

type newBankOptionFunc func(*newBankOptions)

type newBankOptions struct {
	privKey ed25519.PrivateKey
	cfg     Config
	scheme  vrf.Scheme
}

// WithPrivateKey sets the certifying key. Without it a fresh ephemeral
// key is generated.
func WithPrivateKey(privKey ed25519.PrivateKey) newBankOptionFunc {
	return func(opts *newBankOptions) {
		opts.privKey = privKey
	}
}

func WithConfig(cfg Config) newBankOptionFunc {
	return func(opts *newBankOptions) {
		opts.cfg = cfg
	}
}

// WithScheme overrides the VRF scheme payment proofs are verified under.
func WithScheme(scheme vrf.Scheme) newBankOptionFunc {
	return func(opts *newBankOptions) {
		opts.scheme = scheme
	}
}

func New(ctx context.Context, db ledger.Ledger, opts ...newBankOptionFunc) (*Bank, error) {
	options := newBankOptions{
		cfg:    DefaultConfig(),
		scheme: vrf.New(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.cfg.WinPayout == 0 || options.cfg.WinPayout > math.MaxInt64 {
		return nil, fmt.Errorf("%w: win payout %d", ErrInvalidParameters, options.cfg.WinPayout)
	}
	if options.cfg.IssueRetries <= 0 {
		return nil, fmt.Errorf("%w: issue retries %d", ErrInvalidParameters, options.cfg.IssueRetries)
	}
	if options.privKey == nil {
		logging.FromContext(ctx).Info("generating new keys")
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generating private key: %w", err)
		}
		options.privKey = priv
	}

	return &Bank{
		db:      db,
		scheme:  options.scheme,
		cfg:     options.cfg,
		privKey: options.privKey,
		locks:   newSerialLocks(),
	}, nil
}

// PublicKey returns the key check certificates verify under.
func (b *Bank) PublicKey() ed25519.PublicKey {
	return b.privKey.Public().(ed25519.PublicKey)
}

// Deposit credits a payer's escrow account with externally provided funds.
func (b *Bank) Deposit(ctx context.Context, payerPubKey []byte, amount uint64) error {
	if amount == 0 || amount > math.MaxInt64 {
		return fmt.Errorf("%w: deposit amount %d", ErrInvalidParameters, amount)
	}
	if err := b.db.AdjustAccount(ctx, payerPubKey, int64(amount)); err != nil {
		return err
	}
	logging.FromContext(ctx).Debug(
		"deposited funds",
		zap.Binary("account", payerPubKey),
		zap.Uint64("amount", amount),
	)
	return nil
}

// Balance returns an account's balance: remaining escrow for payers,
// accumulated credit for merchants.
func (b *Bank) Balance(ctx context.Context, id []byte) (uint64, error) {
	return b.db.AccountBalance(ctx, id)
}

// IssueCheck certifies a new check for a signed issuance request. The
// check's value is moved from the payer's escrow account to back the
// issued liability; redemptions and a final revocation pay it out.
func (b *Bank) IssueCheck(ctx context.Context, req *check.IssuanceRequest) (*check.Check, error) {
	logger := logging.FromContext(ctx)
	if err := b.validateRequest(req); err != nil {
		return nil, err
	}

	// Escrow first. An issuance record must never exist without the
	// funds backing it.
	if err := b.db.AdjustAccount(ctx, req.PayerPubKey, -int64(req.Value)); err != nil {
		return nil, err
	}

	now := time.Now()
	rec := ledger.IssuanceRecord{
		PayerPubKey:  req.PayerPubKey,
		Value:        req.Value,
		WinThreshold: req.WinThreshold,
		IssuedAt:     now,
	}
	if b.cfg.CheckValidity > 0 {
		rec.ExpiresAt = now.Add(b.cfg.CheckValidity)
	}

	serial, err := b.reserveSerial(ctx, rec)
	if err != nil {
		b.refundEscrow(ctx, req.PayerPubKey, req.Value)
		return nil, err
	}

	chk := &check.Check{
		PayerPubKey:  req.PayerPubKey,
		Serial:       serial,
		Value:        req.Value,
		WinThreshold: req.WinThreshold,
	}
	if err := check.Certify(chk, b.privKey); err != nil {
		// The check is unusable without a certificate; take it off the
		// books again.
		if rerr := b.db.SetRevoked(ctx, serial); rerr != nil {
			logger.Error("failed to revoke uncertified check", zap.Error(rerr), zap.Stringer("serial", serial))
		}
		b.refundEscrow(ctx, req.PayerPubKey, req.Value)
		return nil, fmt.Errorf("certifying check: %w", err)
	}

	checksIssuedMetric.Inc()
	logger.Debug(
		"issued check",
		zap.Stringer("serial", serial),
		zap.Uint64("value", chk.Value),
		zap.Uint64("win_threshold", chk.WinThreshold),
	)
	return chk, nil
}

func (b *Bank) validateRequest(req *check.IssuanceRequest) error {
	switch {
	case req.Value == 0:
		return fmt.Errorf("%w: zero value", ErrInvalidParameters)
	case req.Value > math.MaxInt64:
		return fmt.Errorf("%w: value %d overflows the books", ErrInvalidParameters, req.Value)
	case req.WinThreshold == 0 || req.WinThreshold > vrf.MaxOutput:
		return fmt.Errorf("%w: win threshold %d out of (0, %d]", ErrInvalidParameters, req.WinThreshold, vrf.MaxOutput)
	}
	if _, err := b.scheme.NewVerifier(req.PayerPubKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if err := req.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return nil
}

// reserveSerial draws fresh serials until one is unused, bounded by
// Config.IssueRetries.
func (b *Bank) reserveSerial(ctx context.Context, rec ledger.IssuanceRecord) (check.Serial, error) {
	for attempt := 0; attempt < b.cfg.IssueRetries; attempt++ {
		rec.Serial = check.NewSerial()
		switch err := b.db.MarkSerialIssued(ctx, rec); {
		case err == nil:
			return rec.Serial, nil
		case errors.Is(err, ledger.ErrSerialCollision):
			logging.FromContext(ctx).Warn("issued serial collided, drawing again", zap.Stringer("serial", rec.Serial))
		default:
			return check.Serial{}, err
		}
	}
	return check.Serial{}, fmt.Errorf("%w: gave up after %d attempts", ErrIssuanceExhausted, b.cfg.IssueRetries)
}

func (b *Bank) refundEscrow(ctx context.Context, payerPubKey []byte, value uint64) {
	if err := b.db.AdjustAccount(ctx, payerPubKey, int64(value)); err != nil {
		logging.FromContext(ctx).Error(
			"failed to refund escrow",
			zap.Error(err),
			zap.Binary("account", payerPubKey),
			zap.Uint64("amount", value),
		)
	}
}

// RevokeCheck terminally invalidates a check and returns its unredeemed
// escrow remainder to the payer. Returns the refunded amount.
func (b *Bank) RevokeCheck(ctx context.Context, serial check.Serial) (uint64, error) {
	unlock := b.locks.lock(serial)
	defer unlock()

	rec, err := b.db.Issuance(ctx, serial)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return 0, fmt.Errorf("%w: %s", ErrUnknownSerial, serial)
	case err != nil:
		return 0, err
	}
	if rec.Revoked {
		return 0, fmt.Errorf("%w: %s", ErrCheckRevoked, serial)
	}
	cum, err := b.db.CumulativeRedeemedValue(ctx, serial)
	if err != nil {
		return 0, err
	}
	if cum > rec.Value {
		return 0, fmt.Errorf("books inconsistent for %s: redeemed %d of %d", serial, cum, rec.Value)
	}
	if err := b.db.SetRevoked(ctx, serial); err != nil {
		return 0, err
	}
	refund := rec.Value - cum
	if refund > 0 {
		if err := b.db.AdjustAccount(ctx, rec.PayerPubKey, int64(refund)); err != nil {
			// Revocation held; the refund is what failed. Surface it so
			// the operator can settle the remainder by hand.
			return 0, fmt.Errorf("check %s revoked, refunding %d failed: %w", serial, refund, err)
		}
	}
	logging.FromContext(ctx).Info(
		"revoked check",
		zap.Stringer("serial", serial),
		zap.Uint64("refund", refund),
	)
	return refund, nil
}
