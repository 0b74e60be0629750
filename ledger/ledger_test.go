package ledger_test

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/ledger"
)

// testLedgers returns every Ledger implementation under its name so the
// contract tests run against all of them.
func testLedgers(t *testing.T) map[string]ledger.Ledger {
	t.Helper()
	db, err := ledger.OpenLevelDB(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return map[string]ledger.Ledger{
		"leveldb": db,
		"memory":  ledger.NewMemory(),
	}
}

func newRecord(t *testing.T) ledger.IssuanceRecord {
	t.Helper()
	return ledger.IssuanceRecord{
		Serial:       check.NewSerial(),
		PayerPubKey:  bytes.Repeat([]byte{0x02}, 33),
		Value:        1000,
		WinThreshold: uint64(1) << 28,
		IssuedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func requireRecordsEqual(t *testing.T, want ledger.IssuanceRecord, got *ledger.IssuanceRecord) {
	t.Helper()
	require.Equal(t, want.Serial, got.Serial)
	require.Equal(t, want.PayerPubKey, got.PayerPubKey)
	require.Equal(t, want.Value, got.Value)
	require.Equal(t, want.WinThreshold, got.WinThreshold)
	require.True(t, want.IssuedAt.Equal(got.IssuedAt), "IssuedAt: want %v, got %v", want.IssuedAt, got.IssuedAt)
	require.True(t, want.ExpiresAt.Equal(got.ExpiresAt), "ExpiresAt: want %v, got %v", want.ExpiresAt, got.ExpiresAt)
	require.Equal(t, want.Revoked, got.Revoked)
}

func TestMarkSerialIssued(t *testing.T) {
	t.Parallel()
	for name, db := range testLedgers(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			rec := newRecord(t)
			rec.ExpiresAt = rec.IssuedAt.Add(time.Hour)

			exists, err := db.SerialExists(ctx, rec.Serial)
			require.NoError(t, err)
			require.False(t, exists)

			require.NoError(t, db.MarkSerialIssued(ctx, rec))

			exists, err = db.SerialExists(ctx, rec.Serial)
			require.NoError(t, err)
			require.True(t, exists)

			got, err := db.Issuance(ctx, rec.Serial)
			require.NoError(t, err)
			requireRecordsEqual(t, rec, got)
		})
	}
}

func TestMarkSerialIssuedRejectsCollision(t *testing.T) {
	t.Parallel()
	for name, db := range testLedgers(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			rec := newRecord(t)
			require.NoError(t, db.MarkSerialIssued(ctx, rec))

			dup := rec
			dup.Value = rec.Value * 2
			err := db.MarkSerialIssued(ctx, dup)
			require.ErrorIs(t, err, ledger.ErrSerialCollision)

			// The original record survives untouched.
			got, err := db.Issuance(ctx, rec.Serial)
			require.NoError(t, err)
			requireRecordsEqual(t, rec, got)
		})
	}
}

func TestIssuanceUnknownSerial(t *testing.T) {
	t.Parallel()
	for name, db := range testLedgers(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := db.Issuance(context.Background(), check.NewSerial())
			require.ErrorIs(t, err, ledger.ErrNotFound)
		})
	}
}

func TestSetRevoked(t *testing.T) {
	t.Parallel()
	for name, db := range testLedgers(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			rec := newRecord(t)
			require.NoError(t, db.MarkSerialIssued(ctx, rec))

			require.NoError(t, db.SetRevoked(ctx, rec.Serial))

			got, err := db.Issuance(ctx, rec.Serial)
			require.NoError(t, err)
			require.True(t, got.Revoked)

			err = db.SetRevoked(ctx, check.NewSerial())
			require.ErrorIs(t, err, ledger.ErrNotFound)
		})
	}
}

func TestTryInsertRedemption(t *testing.T) {
	t.Parallel()
	for name, db := range testLedgers(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			serial := check.NewSerial()
			first := ledger.RedemptionEntry{
				Serial:     serial,
				Counter:    3,
				Merchant:   []byte("merchant-a"),
				Amount:     10,
				RedeemedAt: time.Now().UTC().Truncate(time.Second),
			}

			exists, err := db.RedemptionExists(ctx, serial, first.Counter)
			require.NoError(t, err)
			require.False(t, exists)

			require.NoError(t, db.TryInsertRedemption(ctx, first))

			exists, err = db.RedemptionExists(ctx, serial, first.Counter)
			require.NoError(t, err)
			require.True(t, exists)

			// A second counter under the same serial accumulates.
			second := first
			second.Counter = 8
			second.Merchant = []byte("merchant-b")
			require.NoError(t, db.TryInsertRedemption(ctx, second))

			cum, err := db.CumulativeRedeemedValue(ctx, serial)
			require.NoError(t, err)
			require.EqualValues(t, first.Amount+second.Amount, cum)

			balance, err := db.AccountBalance(ctx, first.Merchant)
			require.NoError(t, err)
			require.EqualValues(t, first.Amount, balance)
			balance, err = db.AccountBalance(ctx, second.Merchant)
			require.NoError(t, err)
			require.EqualValues(t, second.Amount, balance)
		})
	}
}

func TestTryInsertRedemptionRejectsDuplicate(t *testing.T) {
	t.Parallel()
	for name, db := range testLedgers(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			entry := ledger.RedemptionEntry{
				Serial:     check.NewSerial(),
				Counter:    1,
				Merchant:   []byte("merchant-a"),
				Amount:     10,
				RedeemedAt: time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, db.TryInsertRedemption(ctx, entry))

			err := db.TryInsertRedemption(ctx, entry)
			require.ErrorIs(t, err, ledger.ErrAlreadyRedeemed)

			// The duplicate must not move any money.
			cum, err := db.CumulativeRedeemedValue(ctx, entry.Serial)
			require.NoError(t, err)
			require.EqualValues(t, entry.Amount, cum)
			balance, err := db.AccountBalance(ctx, entry.Merchant)
			require.NoError(t, err)
			require.EqualValues(t, entry.Amount, balance)
		})
	}
}

func TestConcurrentRedemptionsExactlyOneSucceeds(t *testing.T) {
	t.Parallel()
	for name, db := range testLedgers(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			entry := ledger.RedemptionEntry{
				Serial:     check.NewSerial(),
				Counter:    7,
				Merchant:   []byte("merchant-a"),
				Amount:     10,
				RedeemedAt: time.Now().UTC().Truncate(time.Second),
			}

			var succeeded atomic.Uint32
			var eg errgroup.Group
			for i := 0; i < 20; i++ {
				eg.Go(func() error {
					switch err := db.TryInsertRedemption(ctx, entry); {
					case err == nil:
						succeeded.Add(1)
						return nil
					case errors.Is(err, ledger.ErrAlreadyRedeemed):
						return nil
					default:
						return err
					}
				})
			}
			require.NoError(t, eg.Wait())
			require.EqualValues(t, 1, succeeded.Load())

			cum, err := db.CumulativeRedeemedValue(ctx, entry.Serial)
			require.NoError(t, err)
			require.EqualValues(t, entry.Amount, cum)
			balance, err := db.AccountBalance(ctx, entry.Merchant)
			require.NoError(t, err)
			require.EqualValues(t, entry.Amount, balance)
		})
	}
}

func TestAdjustAccount(t *testing.T) {
	t.Parallel()
	for name, db := range testLedgers(t) {
		db := db
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			id := []byte("payer-1")

			balance, err := db.AccountBalance(ctx, id)
			require.NoError(t, err)
			require.Zero(t, balance)

			require.NoError(t, db.AdjustAccount(ctx, id, 500))
			require.NoError(t, db.AdjustAccount(ctx, id, -200))

			balance, err = db.AccountBalance(ctx, id)
			require.NoError(t, err)
			require.EqualValues(t, 300, balance)

			err = db.AdjustAccount(ctx, id, -301)
			require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

			balance, err = db.AccountBalance(ctx, id)
			require.NoError(t, err)
			require.EqualValues(t, 300, balance)
		})
	}
}

func TestIssuanceRecordExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()
	forever := ledger.IssuanceRecord{}
	require.False(t, forever.Expired(now))

	past := ledger.IssuanceRecord{ExpiresAt: now.Add(-time.Minute)}
	require.True(t, past.Expired(now))

	future := ledger.IssuanceRecord{ExpiresAt: now.Add(time.Minute)}
	require.False(t, future.Expired(now))
}
