package vrf

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/minio/sha256-simd"
)

// NewFake returns a deterministic scheme with no security, for tests and
// local simulation. Keys are ordinary secp256k1 material so that fake-keyed
// identities stay valid everywhere a compressed point is expected, but
// proofs are plain digests over (public key, message) that anyone can
// recompute. Do not use outside tests.
func NewFake() Scheme {
	return fakeScheme{}
}

type fakeScheme struct{}

func (fakeScheme) GenerateKey() ([]byte, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return priv.Serialize(), nil
}

func (fakeScheme) NewSigner(privKey []byte) (Signer, error) {
	if len(privKey) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, btcec.PrivKeyBytesLen, len(privKey))
	}
	priv, _ := btcec.PrivKeyFromBytes(privKey)
	return &fakeSigner{pub: priv.PubKey().SerializeCompressed()}, nil
}

func (fakeScheme) NewVerifier(pubKey []byte) (Verifier, error) {
	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &fakeVerifier{pub: pubKey}, nil
}

// fakeProof derives the one valid "proof" for (pub, msg). The length prefix
// keeps distinct (pub, msg) splits from colliding.
func fakeProof(pub, msg []byte) []byte {
	hasher := sha256.New()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(pub)))
	hasher.Write(lenBuf[:])
	hasher.Write(pub)
	hasher.Write(msg)
	return hasher.Sum(nil)
}

type fakeSigner struct {
	pub []byte
}

func (s *fakeSigner) Prove(msg []byte) ([]byte, uint64, error) {
	proof := fakeProof(s.pub, msg)
	return proof, outputFromHash(proof), nil
}

func (s *fakeSigner) PublicKey() []byte {
	return s.pub
}

type fakeVerifier struct {
	pub []byte
}

func (v *fakeVerifier) Verify(msg, proof []byte) (uint64, error) {
	expected := fakeProof(v.pub, msg)
	if !bytes.Equal(proof, expected) {
		return 0, ErrInvalidProof
	}
	return outputFromHash(proof), nil
}
