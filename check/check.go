package check

import (
	"errors"

	"github.com/google/uuid"
)

// Verification failure kinds shared by the merchant- and bank-side checks.
// They are permanent: a transaction rejected with one of these is invalid
// for that exact message forever and must not be retried or forwarded.
var (
	ErrBadCertificate = errors.New("bank certificate is invalid")
	ErrBadProof       = errors.New("payment proof is invalid")
	ErrNotWinning     = errors.New("transaction is not winning")
)

const SerialSize = 16

// Serial uniquely identifies an issued check. Serials are assigned by the
// bank at issuance and never reused.
type Serial [SerialSize]byte

func NewSerial() Serial {
	return Serial(uuid.New())
}

func (s Serial) String() string {
	return uuid.UUID(s).String()
}

func (s Serial) Bytes() []byte {
	return s[:]
}

// Check authorizes its payer to spend up to Value units through
// probabilistic micropayments. A transaction under the check pays out iff
// the output derived from its payment proof falls below WinThreshold.
//
// Checks are immutable once issued. Expiry and revocation are tracked in
// the issuing bank's books, not in the check itself.
type Check struct {
	// PayerPubKey identifies the liable party. It is a compressed
	// secp256k1 point and doubles as the proof verification key.
	PayerPubKey  []byte
	Serial       Serial
	Value        uint64
	WinThreshold uint64

	// Certificate is the bank's signature over Body().
	Certificate []byte
}

// Transaction is a single micropayment under a check. Only winning
// transactions are ever persisted (as redemption entries); the rest are
// transient.
type Transaction struct {
	Serial  Serial
	Counter uint64
	// Context binds the proof to one merchant. A proof generated for one
	// context never verifies under another.
	Context []byte
	Proof   []byte
	// Output is the value the payer claims the proof derives to. Verifiers
	// re-derive it independently and reject on mismatch.
	Output uint64
}

// Winning reports whether the transaction pays out under the given
// threshold. The comparison is strict: an output equal to the threshold
// loses, a zero threshold never wins.
func (t *Transaction) Winning(threshold uint64) bool {
	return t.Output < threshold
}
