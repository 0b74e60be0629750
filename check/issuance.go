package check

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/minio/sha256-simd"
	"github.com/spacemeshos/go-scale"
)

var ErrBadIssuanceRequest = errors.New("issuance request is invalid")

// IssuanceRequest asks the bank to certify a new check. The payer signs the
// request with the key that will later produce the payment proofs, proving
// possession before the bank takes on the liability.
type IssuanceRequest struct {
	PayerPubKey  []byte `scale:"max=33"`
	Value        uint64
	WinThreshold uint64

	// Signature is the payer's deterministic ECDSA signature (DER) over
	// Digest(). It is not part of the digest itself.
	Signature []byte
}

// EncodeScale covers the signed fields only, in fixed order.
func (r *IssuanceRequest) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, r.PayerPubKey, MaxPubKeySize)
		if err != nil {
			return total, fmt.Errorf("EncodeByteSliceWithLimit failed: %w", err)
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, r.Value)
		if err != nil {
			return total, fmt.Errorf("EncodeCompact64 failed: %w", err)
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, r.WinThreshold)
		if err != nil {
			return total, fmt.Errorf("EncodeCompact64 failed: %w", err)
		}
		total += n
	}
	return total, nil
}

// Digest returns the hash the payer signs: sha256 over the canonical
// encoding of (payer key, value, threshold).
func (r *IssuanceRequest) Digest() ([sha256.Size]byte, error) {
	var buf bytes.Buffer
	if _, err := r.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(buf.Bytes()), nil
}

// SignRequest attaches the payer's signature over the request digest.
func SignRequest(r *IssuanceRequest, priv *btcec.PrivateKey) error {
	digest, err := r.Digest()
	if err != nil {
		return fmt.Errorf("computing request digest: %w", err)
	}
	if !bytes.Equal(r.PayerPubKey, priv.PubKey().SerializeCompressed()) {
		return fmt.Errorf("%w: key does not match the request", ErrBadIssuanceRequest)
	}
	r.Signature = ecdsa.Sign(priv, digest[:]).Serialize()
	return nil
}

// Verify checks that the request is signed by the holder of PayerPubKey.
func (r *IssuanceRequest) Verify() error {
	pub, err := btcec.ParsePubKey(r.PayerPubKey)
	if err != nil {
		return fmt.Errorf("%w: parsing payer key: %v", ErrBadIssuanceRequest, err)
	}
	sig, err := ecdsa.ParseDERSignature(r.Signature)
	if err != nil {
		return fmt.Errorf("%w: parsing signature: %v", ErrBadIssuanceRequest, err)
	}
	digest, err := r.Digest()
	if err != nil {
		return fmt.Errorf("computing request digest: %w", err)
	}
	if !sig.Verify(digest[:], pub) {
		return fmt.Errorf("%w: signature mismatch", ErrBadIssuanceRequest)
	}
	return nil
}
