// Package merchant implements the payee side of the protocol: deciding,
// without talking to the bank, whether a received payment is a winning
// lottery ticket worth submitting for redemption.
package merchant

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/vrf"
)

type Merchant struct {
	scheme    vrf.Scheme
	contextID []byte
	certs     CertVerifier
}

func New(scheme vrf.Scheme, cfg Config) (*Merchant, error) {
	if len(cfg.BankPubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid bank public key length: %d", len(cfg.BankPubKey))
	}
	if len(cfg.ContextID) == 0 || len(cfg.ContextID) > check.MaxContextSize {
		return nil, fmt.Errorf("context id must be between 1 and %d bytes", check.MaxContextSize)
	}
	size := cfg.CertCacheSize
	if size == 0 {
		size = DefaultConfig().CertCacheSize
	}
	certs, err := NewCaching(size, &bankCertVerifier{bankPubKey: cfg.BankPubKey.Bytes()})
	if err != nil {
		return nil, err
	}
	return &Merchant{
		scheme:    scheme,
		contextID: []byte(cfg.ContextID),
		certs:     certs,
	}, nil
}

// ContextID returns the identity payments to this merchant must bind.
func (m *Merchant) ContextID() []byte {
	return append([]byte(nil), m.contextID...)
}

// VerifyTransaction accepts a payment iff the check is certified by the
// bank, the proof verifies under the check's payer key for this merchant's
// context, the claimed output is honest and the ticket wins. The returned
// error classifies the failure: check.ErrBadCertificate, check.ErrBadProof
// or check.ErrNotWinning.
func (m *Merchant) VerifyTransaction(ctx context.Context, chk *check.Check, tx *check.Transaction) error {
	if tx.Serial != chk.Serial {
		return fmt.Errorf("%w: transaction serial %s does not match check serial %s", check.ErrBadProof, tx.Serial, chk.Serial)
	}
	if !bytes.Equal(tx.Context, m.contextID) {
		return fmt.Errorf("%w: transaction is bound to another context", check.ErrBadProof)
	}
	if err := m.certs.VerifyCertificate(ctx, chk); err != nil {
		return err
	}
	verifier, err := m.scheme.NewVerifier(chk.PayerPubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", check.ErrBadProof, err)
	}
	msg, err := tx.Message()
	if err != nil {
		return fmt.Errorf("%w: %v", check.ErrBadProof, err)
	}
	output, err := verifier.Verify(msg, tx.Proof)
	if err != nil {
		return fmt.Errorf("%w: %v", check.ErrBadProof, err)
	}
	if output != tx.Output {
		return fmt.Errorf("%w: claimed output %d, proof yields %d", check.ErrBadProof, tx.Output, output)
	}
	if !tx.Winning(chk.WinThreshold) {
		return fmt.Errorf("%w: output %d is not below threshold %d", check.ErrNotWinning, tx.Output, chk.WinThreshold)
	}
	return nil
}
