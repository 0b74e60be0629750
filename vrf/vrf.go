package vrf

import (
	"encoding/binary"
	"errors"
)

// MaxOutput is the exclusive upper bound of derived outputs.
const MaxOutput = uint64(1) << 32

var (
	ErrInvalidKey   = errors.New("key is invalid")
	ErrInvalidProof = errors.New("proof is invalid")
)

// Signer derives (proof, output) pairs with a secret key.
type Signer interface {
	// Prove returns the unique valid proof for msg under the signer's key
	// and the output it derives to. Calling it twice with the same msg
	// returns byte-identical proofs.
	Prove(msg []byte) (proof []byte, output uint64, err error)

	// PublicKey returns the verification key matching the signer.
	PublicKey() []byte
}

// Verifier checks proofs and recovers their outputs.
type Verifier interface {
	// Verify returns the output derived from a valid proof over msg, or
	// ErrInvalidProof for a tampered proof or mismatched message.
	Verify(msg, proof []byte) (output uint64, err error)
}

// Scheme creates keys and binds them to signers and verifiers.
type Scheme interface {
	// GenerateKey returns fresh private key material.
	GenerateKey() ([]byte, error)
	NewSigner(privKey []byte) (Signer, error)
	NewVerifier(pubKey []byte) (Verifier, error)
}

// outputFromHash reduces the hash produced by proof verification to
// [0, MaxOutput) without bias.
func outputFromHash(beta []byte) uint64 {
	return uint64(binary.BigEndian.Uint32(beta[:4]))
}
