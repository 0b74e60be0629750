// Package ledger is the spend ledger: the bank's durable record of issued
// serials, redeemed (serial, counter) pairs, and account balances. It is
// the only stateful collaborator of the protocol core; everything above it
// is pure verification.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/lotpay/lotpay/check"
)

var ErrNotFound = leveldb.ErrNotFound

var (
	ErrSerialCollision   = errors.New("serial is already issued")
	ErrAlreadyRedeemed   = errors.New("transaction is already redeemed")
	ErrInsufficientFunds = errors.New("insufficient account funds")

	// ErrUnavailable marks transient backend failures. It is the only
	// retryable ledger error; everything else is a permanent outcome.
	ErrUnavailable = errors.New("ledger is unavailable")
)

// IssuanceRecord is the bank's book entry for an issued check. The record
// mirrors the certified fields and carries the validity state the
// certificate deliberately does not.
type IssuanceRecord struct {
	Serial       check.Serial
	PayerPubKey  []byte
	Value        uint64
	WinThreshold uint64
	IssuedAt     time.Time
	// ExpiresAt bounds the check's validity. The zero time means the check
	// doesn't expire.
	ExpiresAt time.Time
	Revoked   bool
}

// Expired reports whether the record's validity period has elapsed.
func (r *IssuanceRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(now)
}

// RedemptionEntry marks one (serial, counter) pair as redeemed and credits
// the merchant with the payout amount.
type RedemptionEntry struct {
	Serial     check.Serial
	Counter    uint64
	Merchant   []byte
	Amount     uint64
	RedeemedAt time.Time
}

// Ledger is the spend ledger contract. Implementations must be safe for
// concurrent use and must keep TryInsertRedemption atomic: of any number of
// concurrent inserts for the same (serial, counter), exactly one succeeds.
type Ledger interface {
	// SerialExists reports whether the serial was ever issued.
	SerialExists(ctx context.Context, serial check.Serial) (bool, error)

	// MarkSerialIssued records a fresh issuance. Returns ErrSerialCollision
	// if the serial was issued before; nothing is written in that case.
	MarkSerialIssued(ctx context.Context, rec IssuanceRecord) error

	// Issuance returns the book entry for a serial, or ErrNotFound.
	Issuance(ctx context.Context, serial check.Serial) (*IssuanceRecord, error)

	// SetRevoked flips the serial's record to revoked. Revocation is
	// terminal. Returns ErrNotFound for unknown serials.
	SetRevoked(ctx context.Context, serial check.Serial) error

	// RedemptionExists reports whether (serial, counter) was redeemed.
	RedemptionExists(ctx context.Context, serial check.Serial, counter uint64) (bool, error)

	// TryInsertRedemption records the entry, bumps the serial's cumulative
	// redeemed value and credits the merchant account, all atomically.
	// Returns ErrAlreadyRedeemed if the (serial, counter) pair exists;
	// nothing is written in that case.
	TryInsertRedemption(ctx context.Context, entry RedemptionEntry) error

	// CumulativeRedeemedValue returns the total amount redeemed under the
	// serial so far. Zero for serials with no redemptions.
	CumulativeRedeemedValue(ctx context.Context, serial check.Serial) (uint64, error)

	// AccountBalance returns the balance of an account (payer escrow or
	// merchant credit). Zero for unknown accounts.
	AccountBalance(ctx context.Context, id []byte) (uint64, error)

	// AdjustAccount moves an account balance by delta. A negative delta
	// that would overdraw the account fails with ErrInsufficientFunds and
	// leaves the balance untouched.
	AdjustAccount(ctx context.Context, id []byte, delta int64) error

	Close() error
}
