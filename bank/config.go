package bank

import (
	"time"

	"go.uber.org/zap/zapcore"
)

func DefaultConfig() Config {
	return Config{
		WinPayout:    10,
		IssueRetries: 3,
	}
}

//nolint:lll
type Config struct {
	WinPayout     uint64        `long:"win-payout"     description:"The amount credited to the merchant for each redeemed winning transaction"`
	IssueRetries  int           `long:"issue-retries"  description:"How many serials to draw on collision before issuance fails"`
	CheckValidity time.Duration `long:"check-validity" description:"How long issued checks stay redeemable (0 means no expiry)"`
}

// implement zap.ObjectMarshaler interface.
func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("win_payout", c.WinPayout)
	enc.AddInt("issue_retries", c.IssueRetries)
	enc.AddDuration("check_validity", c.CheckValidity)
	return nil
}
