package wallet_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/vrf"
	"github.com/lotpay/lotpay/wallet"
)

func schemes() map[string]vrf.Scheme {
	return map[string]vrf.Scheme{
		"secp256k1": vrf.New(),
		"fake":      vrf.NewFake(),
	}
}

func newTestCheck(w *wallet.Wallet) *check.Check {
	return &check.Check{
		PayerPubKey:  w.PublicKey(),
		Serial:       check.NewSerial(),
		Value:        1000,
		WinThreshold: vrf.MaxOutput / 10,
	}
}

func TestGenerateDistinctWallets(t *testing.T) {
	t.Parallel()
	scheme := vrf.NewFake()
	first, err := wallet.Generate(scheme)
	require.NoError(t, err)
	second, err := wallet.Generate(scheme)
	require.NoError(t, err)
	require.NotEqual(t, first.PublicKey(), second.PublicKey())
}

func TestNewRejectsMalformedKey(t *testing.T) {
	t.Parallel()
	_, err := wallet.New(vrf.NewFake(), []byte{1, 2, 3})
	require.ErrorIs(t, err, vrf.ErrInvalidKey)
}

func TestNewIssuanceRequest(t *testing.T) {
	t.Parallel()
	w, err := wallet.Generate(vrf.NewFake())
	require.NoError(t, err)

	req, err := w.NewIssuanceRequest(1000, vrf.MaxOutput/10)
	require.NoError(t, err)
	require.Equal(t, w.PublicKey(), req.PayerPubKey)
	require.EqualValues(t, 1000, req.Value)
	require.EqualValues(t, vrf.MaxOutput/10, req.WinThreshold)
	require.NoError(t, req.Verify())
}

func TestPayUsesSequentialCounters(t *testing.T) {
	t.Parallel()
	w, err := wallet.Generate(vrf.NewFake())
	require.NoError(t, err)
	chk := newTestCheck(w)

	for counter := uint64(0); counter < 3; counter++ {
		tx, err := w.Pay(chk, []byte("merchant-a"))
		require.NoError(t, err)
		require.Equal(t, chk.Serial, tx.Serial)
		require.Equal(t, counter, tx.Counter)
		require.Equal(t, []byte("merchant-a"), tx.Context)
	}
}

func TestPayTracksCountersPerCheck(t *testing.T) {
	t.Parallel()
	w, err := wallet.Generate(vrf.NewFake())
	require.NoError(t, err)
	first := newTestCheck(w)
	second := newTestCheck(w)

	tx, err := w.Pay(first, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, tx.Counter)

	// A fresh check starts from zero again.
	tx, err = w.Pay(second, nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, tx.Counter)
}

func TestPayRejectsForeignCheck(t *testing.T) {
	t.Parallel()
	scheme := vrf.NewFake()
	w, err := wallet.Generate(scheme)
	require.NoError(t, err)
	other, err := wallet.Generate(scheme)
	require.NoError(t, err)

	_, err = w.Pay(newTestCheck(other), nil)
	require.ErrorIs(t, err, wallet.ErrNotOwner)
}

func TestPayAt(t *testing.T) {
	t.Parallel()
	w, err := wallet.Generate(vrf.NewFake())
	require.NoError(t, err)
	chk := newTestCheck(w)

	tx, err := w.PayAt(chk, 5, nil)
	require.NoError(t, err)
	require.EqualValues(t, 5, tx.Counter)

	// Pay continues past the explicit counter.
	tx, err = w.Pay(chk, nil)
	require.NoError(t, err)
	require.EqualValues(t, 6, tx.Counter)

	_, err = w.PayAt(chk, 5, nil)
	require.ErrorIs(t, err, wallet.ErrCounterReused)
}

func TestPayRejectsOversizedContext(t *testing.T) {
	t.Parallel()
	w, err := wallet.Generate(vrf.NewFake())
	require.NoError(t, err)

	_, err = w.Pay(newTestCheck(w), make([]byte, check.MaxContextSize+1))
	require.Error(t, err)
}

func TestPayCopiesContext(t *testing.T) {
	t.Parallel()
	w, err := wallet.Generate(vrf.NewFake())
	require.NoError(t, err)

	context := []byte("merchant-a")
	tx, err := w.Pay(newTestCheck(w), context)
	require.NoError(t, err)
	context[0] = 'X'
	require.Equal(t, []byte("merchant-a"), tx.Context)
}

func TestPayProofVerifies(t *testing.T) {
	t.Parallel()
	for name, scheme := range schemes() {
		scheme := scheme
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			w, err := wallet.Generate(scheme)
			require.NoError(t, err)
			chk := newTestCheck(w)

			tx, err := w.Pay(chk, []byte("merchant-a"))
			require.NoError(t, err)

			verifier, err := scheme.NewVerifier(w.PublicKey())
			require.NoError(t, err)
			msg, err := tx.Message()
			require.NoError(t, err)
			output, err := verifier.Verify(msg, tx.Proof)
			require.NoError(t, err)
			require.Equal(t, tx.Output, output)
		})
	}
}

func TestPaymentsAreDeterministic(t *testing.T) {
	t.Parallel()
	for name, scheme := range schemes() {
		scheme := scheme
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			key, err := scheme.GenerateKey()
			require.NoError(t, err)
			first, err := wallet.New(scheme, key)
			require.NoError(t, err)
			second, err := wallet.New(scheme, key)
			require.NoError(t, err)

			chk := newTestCheck(first)
			txA, err := first.PayAt(chk, 4, []byte("merchant-a"))
			require.NoError(t, err)
			txB, err := second.PayAt(chk, 4, []byte("merchant-a"))
			require.NoError(t, err)

			require.Equal(t, txA.Proof, txB.Proof)
			require.Equal(t, txA.Output, txB.Output)
		})
	}
}

func TestConcurrentPaysUseDistinctCounters(t *testing.T) {
	t.Parallel()
	w, err := wallet.Generate(vrf.NewFake())
	require.NoError(t, err)
	chk := newTestCheck(w)

	var mu sync.Mutex
	counters := make(map[uint64]struct{})
	var eg errgroup.Group
	for i := 0; i < 50; i++ {
		eg.Go(func() error {
			tx, err := w.Pay(chk, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			counters[tx.Counter] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.Len(t, counters, 50)
}
