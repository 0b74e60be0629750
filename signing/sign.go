package signing

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

var (
	ErrSigningFailed    = errors.New("couldn't sign")
	ErrSignatureInvalid = errors.New("signature is invalid")
	ErrInvalidPubkeyLen = errors.New("pubkey has invalid length")
)

type notHashed struct{}

func (notHashed) HashFunc() crypto.Hash { return crypto.Hash(0) }

type encodable[P any] interface {
	scale.Encodable
	*P
}

// Sign returns a signature over the canonical scale encoding of data.
// *T must implement scale.Encodable which is constrained by Encodable.
// The signer is expected to sign the message directly (ed25519).
func Sign[T any, Encodable encodable[T]](data T, signer crypto.Signer) ([]byte, error) {
	var dataBuf bytes.Buffer
	if _, err := Encodable(&data).EncodeScale(scale.NewEncoder(&dataBuf)); err != nil {
		return nil, fmt.Errorf("failed to serialize data (%w)", err)
	}
	signature, err := signer.Sign(nil, dataBuf.Bytes(), notHashed{})
	if err != nil {
		return nil, fmt.Errorf("%w (%v)", ErrSigningFailed, err)
	}
	return signature, nil
}

// Verify checks that signature covers the canonical scale encoding of data
// under the given ed25519 public key.
// *T must implement scale.Encodable which is constrained by Encodable.
func Verify[T any, Encodable encodable[T]](data T, signature, pubkey []byte) error {
	var dataBuf bytes.Buffer
	if _, err := Encodable(&data).EncodeScale(scale.NewEncoder(&dataBuf)); err != nil {
		return err
	}
	if l := len(pubkey); l != ed25519.PublicKeySize {
		return ErrInvalidPubkeyLen
	}
	if !ed25519.Verify(pubkey, dataBuf.Bytes(), signature) {
		return ErrSignatureInvalid
	}
	return nil
}
