package vrf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lotpay/lotpay/vrf"
)

func schemes() map[string]vrf.Scheme {
	return map[string]vrf.Scheme{
		"secp256k1": vrf.New(),
		"fake":      vrf.NewFake(),
	}
}

func TestProveIsDeterministic(t *testing.T) {
	t.Parallel()
	for name, scheme := range schemes() {
		name, scheme := name, scheme
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			priv, err := scheme.GenerateKey()
			require.NoError(t, err)

			one, err := scheme.NewSigner(priv)
			require.NoError(t, err)
			two, err := scheme.NewSigner(priv)
			require.NoError(t, err)

			msg := []byte("pay me")
			proof1, out1, err := one.Prove(msg)
			require.NoError(t, err)
			proof2, out2, err := two.Prove(msg)
			require.NoError(t, err)

			require.Equal(t, proof1, proof2)
			require.Equal(t, out1, out2)
		})
	}
}

func TestVerifyRecoversProverOutput(t *testing.T) {
	t.Parallel()
	for name, scheme := range schemes() {
		name, scheme := name, scheme
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			priv, err := scheme.GenerateKey()
			require.NoError(t, err)
			signer, err := scheme.NewSigner(priv)
			require.NoError(t, err)
			verifier, err := scheme.NewVerifier(signer.PublicKey())
			require.NoError(t, err)

			msg := []byte("pay me")
			proof, out, err := signer.Prove(msg)
			require.NoError(t, err)
			require.Less(t, out, vrf.MaxOutput)

			recovered, err := verifier.Verify(msg, proof)
			require.NoError(t, err)
			require.Equal(t, out, recovered)
		})
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	t.Parallel()
	for name, scheme := range schemes() {
		name, scheme := name, scheme
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			priv, err := scheme.GenerateKey()
			require.NoError(t, err)
			signer, err := scheme.NewSigner(priv)
			require.NoError(t, err)
			verifier, err := scheme.NewVerifier(signer.PublicKey())
			require.NoError(t, err)

			msg := []byte("pay me")
			proof, _, err := signer.Prove(msg)
			require.NoError(t, err)

			tampered := append([]byte(nil), proof...)
			tampered[0] ^= 0x01
			_, err = verifier.Verify(msg, tampered)
			require.ErrorIs(t, err, vrf.ErrInvalidProof)
		})
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	t.Parallel()
	for name, scheme := range schemes() {
		name, scheme := name, scheme
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			priv, err := scheme.GenerateKey()
			require.NoError(t, err)
			signer, err := scheme.NewSigner(priv)
			require.NoError(t, err)
			verifier, err := scheme.NewVerifier(signer.PublicKey())
			require.NoError(t, err)

			proof, _, err := signer.Prove([]byte("pay me"))
			require.NoError(t, err)

			_, err = verifier.Verify([]byte("pay me more"), proof)
			require.ErrorIs(t, err, vrf.ErrInvalidProof)
		})
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	t.Parallel()
	for name, scheme := range schemes() {
		name, scheme := name, scheme
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			priv, err := scheme.GenerateKey()
			require.NoError(t, err)
			signer, err := scheme.NewSigner(priv)
			require.NoError(t, err)

			otherPriv, err := scheme.GenerateKey()
			require.NoError(t, err)
			other, err := scheme.NewSigner(otherPriv)
			require.NoError(t, err)
			verifier, err := scheme.NewVerifier(other.PublicKey())
			require.NoError(t, err)

			msg := []byte("pay me")
			proof, _, err := signer.Prove(msg)
			require.NoError(t, err)

			_, err = verifier.Verify(msg, proof)
			require.ErrorIs(t, err, vrf.ErrInvalidProof)
		})
	}
}

func TestRejectsMalformedKeys(t *testing.T) {
	t.Parallel()
	for name, scheme := range schemes() {
		name, scheme := name, scheme
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := scheme.NewSigner([]byte("short"))
			require.ErrorIs(t, err, vrf.ErrInvalidKey)
			_, err = scheme.NewVerifier([]byte("not a point"))
			require.ErrorIs(t, err, vrf.ErrInvalidKey)
		})
	}
}

func TestOutputsSpreadAcrossRange(t *testing.T) {
	t.Parallel()
	scheme := vrf.NewFake()
	priv, err := scheme.GenerateKey()
	require.NoError(t, err)
	signer, err := scheme.NewSigner(priv)
	require.NoError(t, err)

	// With 256 messages the odds of all outputs landing in one half of the
	// range are negligible; a constant-output bug trips this immediately.
	low, high := 0, 0
	for i := 0; i < 256; i++ {
		_, out, err := signer.Prove([]byte{byte(i)})
		require.NoError(t, err)
		require.Less(t, out, vrf.MaxOutput)
		if out < vrf.MaxOutput/2 {
			low++
		} else {
			high++
		}
	}
	require.NotZero(t, low)
	require.NotZero(t, high)
}

func BenchmarkProve(b *testing.B) {
	scheme := vrf.New()
	priv, err := scheme.GenerateKey()
	require.NoError(b, err)
	signer, err := scheme.NewSigner(priv)
	require.NoError(b, err)

	msg := []byte("pay me")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := signer.Prove(msg); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkVerify(b *testing.B) {
	scheme := vrf.New()
	priv, err := scheme.GenerateKey()
	require.NoError(b, err)
	signer, err := scheme.NewSigner(priv)
	require.NoError(b, err)
	verifier, err := scheme.NewVerifier(signer.PublicKey())
	require.NoError(b, err)

	msg := []byte("pay me")
	proof, _, err := signer.Prove(msg)
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := verifier.Verify(msg, proof); err != nil {
			b.Fatal(err)
		}
	}
}
