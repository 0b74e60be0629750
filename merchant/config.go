package merchant

import (
	"encoding/base64"

	"go.uber.org/zap/zapcore"
)

func DefaultConfig() Config {
	return Config{
		CertCacheSize: 512,
	}
}

//nolint:lll
type Config struct {
	BankPubKey    Base64Enc `long:"bank-pubkey"     description:"The public key certificates are verified against (base64 encoded)"`
	ContextID     string    `long:"context-id"      description:"The merchant identity payments must be bound to"`
	CertCacheSize int       `long:"cert-cache-size" description:"The number of certificate verdicts kept in the LRU cache"`
}

type Base64Enc []byte

func (k *Base64Enc) UnmarshalFlag(value string) error {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return err
	}
	*k = b
	return nil
}

func (k *Base64Enc) Bytes() []byte {
	return *k
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("bank_pubkey", base64.StdEncoding.EncodeToString(c.BankPubKey))
	enc.AddString("context_id", c.ContextID)
	enc.AddInt("cert_cache_size", c.CertCacheSize)
	return nil
}
