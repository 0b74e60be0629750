package merchant

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/minio/sha256-simd"
	"go.uber.org/zap"

	"github.com/lotpay/lotpay/check"
	"github.com/lotpay/lotpay/logging"
)

// CertVerifier decides whether a check carries a valid bank certificate.
type CertVerifier interface {
	VerifyCertificate(ctx context.Context, chk *check.Check) error
}

type bankCertVerifier struct {
	bankPubKey []byte
}

func (v *bankCertVerifier) VerifyCertificate(_ context.Context, chk *check.Check) error {
	return check.VerifyCertificate(chk, v.bankPubKey)
}

type certVerdict struct {
	err error
}

// caching wraps a CertVerifier with an LRU over (body, certificate)
// digests. Verdicts are deterministic, so both outcomes are cached.
type caching struct {
	cache    *lru.Cache
	verifier CertVerifier
}

func NewCaching(size int, verifier CertVerifier) (CertVerifier, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("creating certificate cache: %w", err)
	}
	return &caching{
		cache:    cache,
		verifier: verifier,
	}, nil
}

func (v *caching) VerifyCertificate(ctx context.Context, chk *check.Check) error {
	key := certCacheKey(chk)
	if verdict, ok := v.cache.Get(key); ok {
		logging.FromContext(ctx).Debug("retrieved certificate verdict from the cache", zap.Binary("key", key[:]))
		// SAFETY: type assertion will never panic as we insert only `*certVerdict` values.
		return verdict.(*certVerdict).err
	}

	err := v.verifier.VerifyCertificate(ctx, chk)
	if err == nil || errors.Is(err, check.ErrBadCertificate) {
		v.cache.Add(key, &certVerdict{err: err})
	}
	return err
}

func certCacheKey(chk *check.Check) (key [sha256.Size]byte) {
	hasher := sha256.New()
	hasher.Write(chk.PayerPubKey)
	hasher.Write(chk.Serial[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], chk.Value)
	hasher.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], chk.WinThreshold)
	hasher.Write(buf[:])
	hasher.Write(chk.Certificate)
	hasher.Sum(key[:0])
	return key
}
