// Package wallet implements the payer side of the protocol: requesting
// checks from the bank and turning them into lottery-ticket payments.
package wallet

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/vrf"
)

var (
	ErrNotOwner      = errors.New("check is not owned by this wallet")
	ErrCounterReused = errors.New("counter was already used for this check")
)

// Wallet holds the payer's secp256k1 key and tracks the next unused
// counter per check. The one key signs issuance requests (ECDSA) and
// payment proofs (VRF), so the bank certificate binds both roles to the
// same identity.
type Wallet struct {
	priv   *btcec.PrivateKey
	signer vrf.Signer

	mu       sync.Mutex
	counters map[check.Serial]uint64
}

// Generate creates a wallet with a fresh key.
func Generate(scheme vrf.Scheme) (*Wallet, error) {
	key, err := scheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating wallet key: %w", err)
	}
	return New(scheme, key)
}

// New creates a wallet around an existing private key.
func New(scheme vrf.Scheme, privKey []byte) (*Wallet, error) {
	signer, err := scheme.NewSigner(privKey)
	if err != nil {
		return nil, err
	}
	if len(privKey) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: %d bytes", vrf.ErrInvalidKey, len(privKey))
	}
	priv, _ := btcec.PrivKeyFromBytes(privKey)
	// The scheme must derive the same public identity the ECDSA side uses.
	if !bytes.Equal(signer.PublicKey(), priv.PubKey().SerializeCompressed()) {
		return nil, fmt.Errorf("%w: scheme public key diverges from the ECDSA one", vrf.ErrInvalidKey)
	}
	return &Wallet{
		priv:     priv,
		signer:   signer,
		counters: make(map[check.Serial]uint64),
	}, nil
}

// PublicKey returns the wallet's compressed public identity.
func (w *Wallet) PublicKey() []byte {
	return w.signer.PublicKey()
}

// NewIssuanceRequest builds a signed request for a check of the given
// value and win threshold.
func (w *Wallet) NewIssuanceRequest(value, winThreshold uint64) (*check.IssuanceRequest, error) {
	req := &check.IssuanceRequest{
		PayerPubKey:  w.PublicKey(),
		Value:        value,
		WinThreshold: winThreshold,
	}
	if err := check.SignRequest(req, w.priv); err != nil {
		return nil, err
	}
	return req, nil
}

// Pay signs a payment against chk with the next unused counter, bound to
// the merchant's context.
func (w *Wallet) Pay(chk *check.Check, context []byte) (*check.Transaction, error) {
	if err := w.owns(chk); err != nil {
		return nil, err
	}
	w.mu.Lock()
	counter := w.counters[chk.Serial]
	w.counters[chk.Serial] = counter + 1
	w.mu.Unlock()
	return w.pay(chk, counter, context)
}

// PayAt signs a payment with an explicit counter and advances the wallet
// past it. Counters already covered by an earlier payment are rejected
// with ErrCounterReused.
func (w *Wallet) PayAt(chk *check.Check, counter uint64, context []byte) (*check.Transaction, error) {
	if err := w.owns(chk); err != nil {
		return nil, err
	}
	w.mu.Lock()
	if next := w.counters[chk.Serial]; counter < next {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: counter %d, next unused is %d", ErrCounterReused, counter, next)
	}
	w.counters[chk.Serial] = counter + 1
	w.mu.Unlock()
	return w.pay(chk, counter, context)
}

func (w *Wallet) owns(chk *check.Check) error {
	if !bytes.Equal(chk.PayerPubKey, w.PublicKey()) {
		return fmt.Errorf("%w: check is payable by %X", ErrNotOwner, chk.PayerPubKey)
	}
	return nil
}

func (w *Wallet) pay(chk *check.Check, counter uint64, context []byte) (*check.Transaction, error) {
	msg, err := check.EncodePaymentMessage(chk.Serial, counter, context)
	if err != nil {
		return nil, err
	}
	proof, output, err := w.signer.Prove(msg)
	if err != nil {
		return nil, fmt.Errorf("proving payment: %w", err)
	}
	return &check.Transaction{
		Serial:  chk.Serial,
		Counter: counter,
		Context: append([]byte(nil), context...),
		Proof:   proof,
		Output:  output,
	}, nil
}
