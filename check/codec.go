package check

import (
	"bytes"
	"fmt"

	"github.com/spacemeshos/go-scale"
)

const (
	// MaxPubKeySize covers a compressed secp256k1 point.
	MaxPubKeySize = 33
	// MaxContextSize bounds the merchant context accepted in signed messages.
	MaxContextSize = 256
)

// Body is the certified part of a check.
// Scale encoding is implemented by hand to pin the field order and to limit
// the variable-length field; the encoding is length-prefixed, so no two
// distinct bodies encode to the same bytes.
type Body struct {
	PayerPubKey  []byte `scale:"max=33"`
	Serial       Serial
	Value        uint64
	WinThreshold uint64
}

func (b *Body) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, b.PayerPubKey, MaxPubKeySize)
		if err != nil {
			return total, fmt.Errorf("EncodeByteSliceWithLimit failed: %w", err)
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, b.Serial[:], SerialSize)
		if err != nil {
			return total, fmt.Errorf("EncodeByteSliceWithLimit failed: %w", err)
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, b.Value)
		if err != nil {
			return total, fmt.Errorf("EncodeCompact64 failed: %w", err)
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, b.WinThreshold)
		if err != nil {
			return total, fmt.Errorf("EncodeCompact64 failed: %w", err)
		}
		total += n
	}
	return total, nil
}

// Body returns the certified fields of the check.
func (c *Check) Body() Body {
	return Body{
		PayerPubKey:  c.PayerPubKey,
		Serial:       c.Serial,
		Value:        c.Value,
		WinThreshold: c.WinThreshold,
	}
}

// PaymentMessage is the input to proof generation and verification for a
// single transaction. Encoded the same way as Body: fixed field order,
// length-prefixed context.
type PaymentMessage struct {
	Serial  Serial
	Counter uint64
	Context []byte `scale:"max=256"`
}

func (m *PaymentMessage) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, m.Serial[:], SerialSize)
		if err != nil {
			return total, fmt.Errorf("EncodeByteSliceWithLimit failed: %w", err)
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, m.Counter)
		if err != nil {
			return total, fmt.Errorf("EncodeCompact64 failed: %w", err)
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, m.Context, MaxContextSize)
		if err != nil {
			return total, fmt.Errorf("EncodeByteSliceWithLimit failed: %w", err)
		}
		total += n
	}
	return total, nil
}

// EncodePaymentMessage returns the canonical bytes proven over for the
// transaction (serial, counter, context).
func EncodePaymentMessage(serial Serial, counter uint64, context []byte) ([]byte, error) {
	m := PaymentMessage{
		Serial:  serial,
		Counter: counter,
		Context: context,
	}
	var buf bytes.Buffer
	if _, err := m.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Message returns the canonical proven bytes for this transaction.
func (t *Transaction) Message() ([]byte, error) {
	return EncodePaymentMessage(t.Serial, t.Counter, t.Context)
}
