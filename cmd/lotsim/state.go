package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lotpay/lotpay/logging"
	"github.com/lotpay/lotpay/util"
)

const stateFilename = "state.bin"

// keyEnvVar overrides the bank key from the state file when set.
// The value is the base64-encoded ed25519 private key.
const keyEnvVar = "LOTSIM_BANK_KEY"

type state struct {
	PrivKey []byte
}

func (s *state) save(datadir string) error {
	return util.Persist(filepath.Join(datadir, stateFilename), s)
}

func loadState(datadir string) (*state, error) {
	v := &state{}
	if err := util.Load(filepath.Join(datadir, stateFilename), v); err != nil {
		return nil, err
	}

	return v, nil
}

// bankKey returns the bank's signing key. A key passed via LOTSIM_BANK_KEY
// takes precedence; otherwise the key is read from the state file in datadir,
// generated and persisted there on first run.
func bankKey(ctx context.Context, datadir string) (ed25519.PrivateKey, error) {
	if enc := os.Getenv(keyEnvVar); enc != "" {
		key, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", keyEnvVar, err)
		}
		if len(key) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid %s length %d, expected %d", keyEnvVar, len(key), ed25519.PrivateKeySize)
		}
		return key, nil
	}

	s, err := loadState(datadir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logging.FromContext(ctx).Info("generating new bank key")
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		s = &state{PrivKey: priv}
		if err := s.save(datadir); err != nil {
			return nil, fmt.Errorf("saving state: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("loading state: %w", err)
	}

	if len(s.PrivKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("state file holds a key of length %d, expected %d", len(s.PrivKey), ed25519.PrivateKeySize)
	}
	return s.PrivKey, nil
}
