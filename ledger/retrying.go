package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/logging"
)

const MaxBackoff = time.Second * 30

// Retrying decorates a Ledger with bounded exponential backoff on
// ErrUnavailable. Permanent outcomes (collisions, double redemptions,
// missing records) pass through untouched.
type Retrying struct {
	inner             Ledger
	maxRetries        uint
	backoffBase       time.Duration
	backoffMultiplier float64
}

func NewRetrying(inner Ledger, maxRetries uint, backoffBase time.Duration, backoffMultiplier float64) *Retrying {
	return &Retrying{
		inner:             inner,
		maxRetries:        maxRetries,
		backoffBase:       backoffBase,
		backoffMultiplier: backoffMultiplier,
	}
}

func (r *Retrying) do(ctx context.Context, op func() error) error {
	logger := logging.FromContext(ctx)
	timer := time.NewTimer(0)
	<-timer.C
	delay := r.backoffBase

	err := op()
	for retry := uint(0); retry < r.maxRetries && errors.Is(err, ErrUnavailable); retry++ {
		timer.Reset(delay)
		logger.Sugar().Infof("retrying ledger operation for %d time, waiting %v", retry+1, delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			logger.Debug("ledger retry interrupted", zap.Error(ctx.Err()))
			return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		delay = time.Duration(float64(delay) * r.backoffMultiplier)
		if delay > MaxBackoff {
			delay = MaxBackoff
		}
		err = op()
	}
	return err
}

func retryValue[T any](ctx context.Context, r *Retrying, op func() (T, error)) (T, error) {
	var val T
	err := r.do(ctx, func() error {
		var err error
		val, err = op()
		return err
	})
	return val, err
}

func (r *Retrying) SerialExists(ctx context.Context, serial check.Serial) (bool, error) {
	return retryValue(ctx, r, func() (bool, error) { return r.inner.SerialExists(ctx, serial) })
}

func (r *Retrying) MarkSerialIssued(ctx context.Context, rec IssuanceRecord) error {
	return r.do(ctx, func() error { return r.inner.MarkSerialIssued(ctx, rec) })
}

func (r *Retrying) Issuance(ctx context.Context, serial check.Serial) (*IssuanceRecord, error) {
	return retryValue(ctx, r, func() (*IssuanceRecord, error) { return r.inner.Issuance(ctx, serial) })
}

func (r *Retrying) SetRevoked(ctx context.Context, serial check.Serial) error {
	return r.do(ctx, func() error { return r.inner.SetRevoked(ctx, serial) })
}

func (r *Retrying) RedemptionExists(ctx context.Context, serial check.Serial, counter uint64) (bool, error) {
	return retryValue(ctx, r, func() (bool, error) { return r.inner.RedemptionExists(ctx, serial, counter) })
}

func (r *Retrying) TryInsertRedemption(ctx context.Context, entry RedemptionEntry) error {
	return r.do(ctx, func() error { return r.inner.TryInsertRedemption(ctx, entry) })
}

func (r *Retrying) CumulativeRedeemedValue(ctx context.Context, serial check.Serial) (uint64, error) {
	return retryValue(ctx, r, func() (uint64, error) { return r.inner.CumulativeRedeemedValue(ctx, serial) })
}

func (r *Retrying) AccountBalance(ctx context.Context, id []byte) (uint64, error) {
	return retryValue(ctx, r, func() (uint64, error) { return r.inner.AccountBalance(ctx, id) })
}

func (r *Retrying) AdjustAccount(ctx context.Context, id []byte, delta int64) error {
	return r.do(ctx, func() error { return r.inner.AdjustAccount(ctx, id, delta) })
}

func (r *Retrying) Close() error {
	return r.inner.Close()
}
