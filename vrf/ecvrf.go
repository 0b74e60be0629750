package vrf

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/vechain/go-ecvrf"
)

// New returns the production scheme: ECVRF-SECP256K1-SHA256-TAI with
// secp256k1 key material. Public keys are compressed points, so they double
// as the payer identity used everywhere else.
func New() Scheme {
	return secp256k1Scheme{}
}

type secp256k1Scheme struct{}

func (secp256k1Scheme) GenerateKey() ([]byte, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating secp256k1 key: %w", err)
	}
	return priv.Serialize(), nil
}

func (secp256k1Scheme) NewSigner(privKey []byte) (Signer, error) {
	if len(privKey) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, btcec.PrivKeyBytesLen, len(privKey))
	}
	priv, _ := btcec.PrivKeyFromBytes(privKey)
	return &secp256k1Signer{priv: priv}, nil
}

func (secp256k1Scheme) NewVerifier(pubKey []byte) (Verifier, error) {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &secp256k1Verifier{pub: pub}, nil
}

type secp256k1Signer struct {
	priv *btcec.PrivateKey
}

func (s *secp256k1Signer) Prove(msg []byte) ([]byte, uint64, error) {
	beta, pi, err := ecvrf.Secp256k1Sha256Tai.Prove(s.priv.ToECDSA(), msg)
	if err != nil {
		return nil, 0, fmt.Errorf("generating proof: %w", err)
	}
	return pi, outputFromHash(beta), nil
}

func (s *secp256k1Signer) PublicKey() []byte {
	return s.priv.PubKey().SerializeCompressed()
}

type secp256k1Verifier struct {
	pub *btcec.PublicKey
}

func (v *secp256k1Verifier) Verify(msg, proof []byte) (uint64, error) {
	beta, err := ecvrf.Secp256k1Sha256Tai.Verify(v.pub.ToECDSA(), msg, proof)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return outputFromHash(beta), nil
}
