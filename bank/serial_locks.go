package bank

import (
	"sync"

	"github.com/lotpay/lotpay/check"
)

// serialLocks hands out one mutex per serial so redemption's
// check-and-insert runs serially per check while distinct checks
// proceed in parallel. Entries are reference counted and removed
// when the last holder unlocks.
type serialLocks struct {
	mu    sync.Mutex
	locks map[check.Serial]*serialLock
}

type serialLock struct {
	mu   sync.Mutex
	refs int
}

func newSerialLocks() *serialLocks {
	return &serialLocks{locks: make(map[check.Serial]*serialLock)}
}

func (s *serialLocks) lock(serial check.Serial) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[serial]
	if !ok {
		l = &serialLock{}
		s.locks[serial] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, serial)
		}
		s.mu.Unlock()
	}
}
