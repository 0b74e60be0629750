package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/lotpay/lotpay/check"
)

type redemptionID struct {
	serial  check.Serial
	counter uint64
}

// Memory is an in-process ledger with the same semantics as LevelDB.
// It backs tests and the simulator's throwaway mode.
type Memory struct {
	mu         sync.Mutex
	issued     map[check.Serial]IssuanceRecord
	redeemed   map[redemptionID]RedemptionEntry
	cumulative map[check.Serial]uint64
	accounts   map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{
		issued:     make(map[check.Serial]IssuanceRecord),
		redeemed:   make(map[redemptionID]RedemptionEntry),
		cumulative: make(map[check.Serial]uint64),
		accounts:   make(map[string]uint64),
	}
}

func (m *Memory) SerialExists(ctx context.Context, serial check.Serial) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.issued[serial]
	return ok, nil
}

func (m *Memory) MarkSerialIssued(ctx context.Context, rec IssuanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.issued[rec.Serial]; ok {
		return fmt.Errorf("%w: %s", ErrSerialCollision, rec.Serial)
	}
	rec.PayerPubKey = append([]byte(nil), rec.PayerPubKey...)
	m.issued[rec.Serial] = rec
	return nil
}

func (m *Memory) Issuance(ctx context.Context, serial check.Serial) (*IssuanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.issued[serial]
	if !ok {
		return nil, fmt.Errorf("issuance record for %s: %w", serial, ErrNotFound)
	}
	rec.PayerPubKey = append([]byte(nil), rec.PayerPubKey...)
	return &rec, nil
}

func (m *Memory) SetRevoked(ctx context.Context, serial check.Serial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.issued[serial]
	if !ok {
		return fmt.Errorf("issuance record for %s: %w", serial, ErrNotFound)
	}
	rec.Revoked = true
	m.issued[serial] = rec
	return nil
}

func (m *Memory) RedemptionExists(ctx context.Context, serial check.Serial, counter uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.redeemed[redemptionID{serial, counter}]
	return ok, nil
}

func (m *Memory) TryInsertRedemption(ctx context.Context, entry RedemptionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := redemptionID{entry.Serial, entry.Counter}
	if _, ok := m.redeemed[id]; ok {
		return fmt.Errorf("%w: %s counter %d", ErrAlreadyRedeemed, entry.Serial, entry.Counter)
	}
	entry.Merchant = append([]byte(nil), entry.Merchant...)
	m.redeemed[id] = entry
	m.cumulative[entry.Serial] += entry.Amount
	m.accounts[string(entry.Merchant)] += entry.Amount
	return nil
}

func (m *Memory) CumulativeRedeemedValue(ctx context.Context, serial check.Serial) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cumulative[serial], nil
}

func (m *Memory) AccountBalance(ctx context.Context, id []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[string(id)], nil
}

func (m *Memory) AdjustAccount(ctx context.Context, id []byte, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated, err := applyDelta(m.accounts[string(id)], delta)
	if err != nil {
		return err
	}
	m.accounts[string(id)] = updated
	return nil
}

func (m *Memory) Close() error {
	return nil
}
