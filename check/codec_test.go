package check_test

import (
	"bytes"
	"testing"

	"github.com/spacemeshos/go-scale"
	"github.com/stretchr/testify/require"

	"github.com/lotpay/lotpay/check"
)

func encodeBody(t *testing.T, b check.Body) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := b.EncodeScale(scale.NewEncoder(&buf))
	require.NoError(t, err)
	return buf.Bytes()
}

func TestBodyEncodingIsDeterministic(t *testing.T) {
	t.Parallel()
	body := check.Body{
		PayerPubKey:  bytes.Repeat([]byte{0x02}, 33),
		Serial:       check.NewSerial(),
		Value:        100,
		WinThreshold: 1 << 20,
	}
	require.Equal(t, encodeBody(t, body), encodeBody(t, body))
}

func TestBodyEncodingSeparatesFields(t *testing.T) {
	t.Parallel()
	base := check.Body{
		PayerPubKey:  bytes.Repeat([]byte{0x02}, 33),
		Serial:       check.NewSerial(),
		Value:        100,
		WinThreshold: 50,
	}

	mutations := map[string]func(*check.Body){
		"pubkey":    func(b *check.Body) { b.PayerPubKey = bytes.Repeat([]byte{0x03}, 33) },
		"serial":    func(b *check.Body) { b.Serial = check.NewSerial() },
		"value":     func(b *check.Body) { b.Value++ },
		"threshold": func(b *check.Body) { b.WinThreshold++ },
	}
	for name, mutate := range mutations {
		mutated := base
		mutate(&mutated)
		require.NotEqual(t, encodeBody(t, base), encodeBody(t, mutated), "mutating %s must change the encoding", name)
	}
}

func TestBodyEncodingRejectsOversizedKey(t *testing.T) {
	t.Parallel()
	body := check.Body{PayerPubKey: bytes.Repeat([]byte{0x02}, check.MaxPubKeySize+1)}
	var buf bytes.Buffer
	_, err := body.EncodeScale(scale.NewEncoder(&buf))
	require.Error(t, err)
}

func TestPaymentMessageIsUnambiguous(t *testing.T) {
	t.Parallel()
	serial := check.NewSerial()

	// Values picked so that naive concatenation would collide:
	// (counter=1, ctx="2x") vs (counter=12, ctx="x").
	m1, err := check.EncodePaymentMessage(serial, 1, []byte("2x"))
	require.NoError(t, err)
	m2, err := check.EncodePaymentMessage(serial, 12, []byte("x"))
	require.NoError(t, err)
	require.NotEqual(t, m1, m2)

	other, err := check.EncodePaymentMessage(check.NewSerial(), 1, []byte("2x"))
	require.NoError(t, err)
	require.NotEqual(t, m1, other)

	again, err := check.EncodePaymentMessage(serial, 1, []byte("2x"))
	require.NoError(t, err)
	require.Equal(t, m1, again)
}

func TestPaymentMessageRejectsOversizedContext(t *testing.T) {
	t.Parallel()
	_, err := check.EncodePaymentMessage(check.NewSerial(), 0, bytes.Repeat([]byte{0xaa}, check.MaxContextSize+1))
	require.Error(t, err)
}

func TestTransactionMessageMatchesHelper(t *testing.T) {
	t.Parallel()
	tx := check.Transaction{
		Serial:  check.NewSerial(),
		Counter: 7,
		Context: []byte("merchant-1"),
	}
	fromTx, err := tx.Message()
	require.NoError(t, err)
	direct, err := check.EncodePaymentMessage(tx.Serial, tx.Counter, tx.Context)
	require.NoError(t, err)
	require.Equal(t, direct, fromTx)
}
