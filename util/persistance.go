// Package util holds small helpers for durable state files.
package util

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	xdr "github.com/nullstyle/go-xdr/xdr3"
)

// Persist writes v to filename as XDR. The write is atomic: readers see
// either the previous content or the new one, never a torn file.
func Persist(filename string, v any) error {
	var w bytes.Buffer
	if _, err := xdr.Marshal(&w, v); err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := atomic.WriteFile(filename, &w); err != nil {
		return fmt.Errorf("writing to disk: %w", err)
	}
	return nil
}

// Load reads XDR-encoded state from filename into v. A missing file
// surfaces as fs.ErrNotExist through the error chain.
func Load(filename string, v any) error {
	data, err := os.ReadFile(filename) //#nosec G304
	if err != nil {
		return fmt.Errorf("loading file: %w", err)
	}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	return nil
}
