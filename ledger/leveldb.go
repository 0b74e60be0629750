package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/lotpay/lotpay/check"
)

// Key layout:
//
//	i/<serial>          issuance record (xdr)
//	r/<serial><counter> redemption entry (xdr), counter big-endian
//	c/<serial>          cumulative redeemed value (8 bytes big-endian)
//	a/<account>         account balance (8 bytes big-endian)
//	meta/version        schema version
type LevelDB struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) a durable ledger at path.
func OpenLevelDB(ctx context.Context, path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db @ %s: %w", path, err)
	}
	if err := ensureSchemaVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

// issuanceData is the persisted form of IssuanceRecord. Times are unix
// seconds; zero means unset.
type issuanceData struct {
	PayerPubKey  []byte
	Value        uint64
	WinThreshold uint64
	IssuedAt     int64
	ExpiresAt    int64
	Revoked      bool
}

type redemptionData struct {
	Merchant   []byte
	Amount     uint64
	RedeemedAt int64
}

func (l *LevelDB) SerialExists(ctx context.Context, serial check.Serial) (bool, error) {
	ok, err := l.db.Has(issuanceKey(serial), nil)
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (l *LevelDB) MarkSerialIssued(ctx context.Context, rec IssuanceRecord) error {
	trans, err := l.db.OpenTransaction()
	if err != nil {
		return unavailable(err)
	}
	key := issuanceKey(rec.Serial)
	ok, err := trans.Has(key, nil)
	switch {
	case err != nil:
		trans.Discard()
		return unavailable(err)
	case ok:
		trans.Discard()
		return fmt.Errorf("%w: %s", ErrSerialCollision, rec.Serial)
	}
	value, err := serializeIssuance(rec)
	if err != nil {
		trans.Discard()
		return err
	}
	if err := trans.Put(key, value, nil); err != nil {
		trans.Discard()
		return unavailable(err)
	}
	if err := trans.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (l *LevelDB) Issuance(ctx context.Context, serial check.Serial) (*IssuanceRecord, error) {
	data, err := l.db.Get(issuanceKey(serial), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, fmt.Errorf("issuance record for %s: %w", serial, ErrNotFound)
	case err != nil:
		return nil, unavailable(err)
	}
	return deserializeIssuance(serial, data)
}

func (l *LevelDB) SetRevoked(ctx context.Context, serial check.Serial) error {
	trans, err := l.db.OpenTransaction()
	if err != nil {
		return unavailable(err)
	}
	key := issuanceKey(serial)
	data, err := trans.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		trans.Discard()
		return fmt.Errorf("issuance record for %s: %w", serial, ErrNotFound)
	case err != nil:
		trans.Discard()
		return unavailable(err)
	}
	rec, err := deserializeIssuance(serial, data)
	if err != nil {
		trans.Discard()
		return err
	}
	rec.Revoked = true
	value, err := serializeIssuance(*rec)
	if err != nil {
		trans.Discard()
		return err
	}
	if err := trans.Put(key, value, nil); err != nil {
		trans.Discard()
		return unavailable(err)
	}
	if err := trans.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (l *LevelDB) RedemptionExists(ctx context.Context, serial check.Serial, counter uint64) (bool, error) {
	ok, err := l.db.Has(redemptionKey(serial, counter), nil)
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (l *LevelDB) TryInsertRedemption(ctx context.Context, entry RedemptionEntry) error {
	trans, err := l.db.OpenTransaction()
	if err != nil {
		return unavailable(err)
	}
	key := redemptionKey(entry.Serial, entry.Counter)
	ok, err := trans.Has(key, nil)
	switch {
	case err != nil:
		trans.Discard()
		return unavailable(err)
	case ok:
		trans.Discard()
		return fmt.Errorf("%w: %s counter %d", ErrAlreadyRedeemed, entry.Serial, entry.Counter)
	}

	value, err := serializeRedemption(entry)
	if err != nil {
		trans.Discard()
		return err
	}
	if err := trans.Put(key, value, nil); err != nil {
		trans.Discard()
		return unavailable(err)
	}

	// The cumulative value and the merchant credit move in the same
	// transaction as the redemption marker; a crash cannot split them.
	cum, err := readUint64(trans, cumulativeKey(entry.Serial))
	if err != nil {
		trans.Discard()
		return err
	}
	if err := putUint64(trans, cumulativeKey(entry.Serial), cum+entry.Amount); err != nil {
		trans.Discard()
		return err
	}
	balance, err := readUint64(trans, accountKey(entry.Merchant))
	if err != nil {
		trans.Discard()
		return err
	}
	if err := putUint64(trans, accountKey(entry.Merchant), balance+entry.Amount); err != nil {
		trans.Discard()
		return err
	}
	if err := trans.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (l *LevelDB) CumulativeRedeemedValue(ctx context.Context, serial check.Serial) (uint64, error) {
	return readUint64(l.db, cumulativeKey(serial))
}

func (l *LevelDB) AccountBalance(ctx context.Context, id []byte) (uint64, error) {
	return readUint64(l.db, accountKey(id))
}

func (l *LevelDB) AdjustAccount(ctx context.Context, id []byte, delta int64) error {
	trans, err := l.db.OpenTransaction()
	if err != nil {
		return unavailable(err)
	}
	balance, err := readUint64(trans, accountKey(id))
	if err != nil {
		trans.Discard()
		return err
	}
	updated, err := applyDelta(balance, delta)
	if err != nil {
		trans.Discard()
		return err
	}
	if err := putUint64(trans, accountKey(id), updated); err != nil {
		trans.Discard()
		return err
	}
	if err := trans.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func applyDelta(balance uint64, delta int64) (uint64, error) {
	if delta >= 0 {
		updated := balance + uint64(delta)
		if updated < balance {
			return 0, fmt.Errorf("account balance overflow: %d + %d", balance, delta)
		}
		return updated, nil
	}
	debit := uint64(-delta)
	if balance < debit {
		return 0, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, balance, debit)
	}
	return balance - debit, nil
}

func issuanceKey(serial check.Serial) []byte {
	return append([]byte("i/"), serial[:]...)
}

func redemptionKey(serial check.Serial, counter uint64) []byte {
	key := make([]byte, 0, 2+len(serial)+8)
	key = append(key, 'r', '/')
	key = append(key, serial[:]...)
	return binary.BigEndian.AppendUint64(key, counter)
}

func cumulativeKey(serial check.Serial) []byte {
	return append([]byte("c/"), serial[:]...)
}

func accountKey(id []byte) []byte {
	return append([]byte("a/"), id...)
}

// getter is satisfied by both *leveldb.DB and *leveldb.Transaction.
type getter interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

type putter interface {
	Put(key, value []byte, wo *opt.WriteOptions) error
}

func readUint64(g getter, key []byte) (uint64, error) {
	data, err := g.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return 0, nil
	case err != nil:
		return 0, unavailable(err)
	case len(data) != 8:
		return 0, fmt.Errorf("corrupted value at %X: %d bytes, want 8", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func putUint64(p putter, key []byte, value uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	if err := p.Put(key, buf[:], nil); err != nil {
		return unavailable(err)
	}
	return nil
}

func serializeIssuance(rec IssuanceRecord) ([]byte, error) {
	data := issuanceData{
		PayerPubKey:  rec.PayerPubKey,
		Value:        rec.Value,
		WinThreshold: rec.WinThreshold,
		IssuedAt:     rec.IssuedAt.Unix(),
		Revoked:      rec.Revoked,
	}
	if !rec.ExpiresAt.IsZero() {
		data.ExpiresAt = rec.ExpiresAt.Unix()
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, data); err != nil {
		return nil, fmt.Errorf("serialization failure: %v", err)
	}
	return buf.Bytes(), nil
}

func deserializeIssuance(serial check.Serial, data []byte) (*IssuanceRecord, error) {
	var d issuanceData
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &d); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %v", err)
	}
	rec := &IssuanceRecord{
		Serial:       serial,
		PayerPubKey:  d.PayerPubKey,
		Value:        d.Value,
		WinThreshold: d.WinThreshold,
		IssuedAt:     time.Unix(d.IssuedAt, 0).UTC(),
		Revoked:      d.Revoked,
	}
	if d.ExpiresAt != 0 {
		rec.ExpiresAt = time.Unix(d.ExpiresAt, 0).UTC()
	}
	return rec, nil
}

func serializeRedemption(entry RedemptionEntry) ([]byte, error) {
	data := redemptionData{
		Merchant:   entry.Merchant,
		Amount:     entry.Amount,
		RedeemedAt: entry.RedeemedAt.Unix(),
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, data); err != nil {
		return nil, fmt.Errorf("serialization failure: %v", err)
	}
	return buf.Bytes(), nil
}

// unavailable marks err as a transient backend failure; only these are
// worth retrying (see NewRetrying).
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
