package check

import (
	"crypto"
	"fmt"

	"github.com/lotpay/lotpay/signing"
)

// Certify signs the check body with the bank's signing key and attaches the
// resulting certificate to the check.
func Certify(chk *Check, signer crypto.Signer) error {
	cert, err := signing.Sign(chk.Body(), signer)
	if err != nil {
		return fmt.Errorf("signing check body: %w", err)
	}
	chk.Certificate = cert
	return nil
}

// VerifyCertificate checks the bank certificate against the bank's public
// key. The certificate covers the canonical encoding of the check body, so
// any mutation of the certified fields invalidates it.
func VerifyCertificate(chk *Check, bankPubKey []byte) error {
	if err := signing.Verify(chk.Body(), chk.Certificate, bankPubKey); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCertificate, err)
	}
	return nil
}
