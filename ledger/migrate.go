package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/lotpay/lotpay/logging"
)

// schemaVersion is bumped when the key layout or value encodings change.
// Migrations between versions are written when such a change lands.
const schemaVersion = uint64(1)

var versionKey = []byte("meta/version")

// ensureSchemaVersion stamps fresh databases with the current schema
// version and refuses to open databases written by a newer layout.
func ensureSchemaVersion(ctx context.Context, db *leveldb.DB) error {
	data, err := db.Get(versionKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], schemaVersion)
		if err := db.Put(versionKey, buf[:], &opt.WriteOptions{Sync: true}); err != nil {
			return fmt.Errorf("stamping ledger schema version: %w", err)
		}
		logging.FromContext(ctx).Debug("stamped new ledger", zap.Uint64("version", schemaVersion))
		return nil
	case err != nil:
		return fmt.Errorf("reading ledger schema version: %w", err)
	case len(data) != 8:
		return fmt.Errorf("corrupted ledger schema version: %d bytes, want 8", len(data))
	}

	version := binary.BigEndian.Uint64(data)
	if version > schemaVersion {
		return fmt.Errorf("ledger schema version %d is newer than supported %d", version, schemaVersion)
	}
	if version < schemaVersion {
		// No older layouts shipped so far.
		return fmt.Errorf("no migration path from ledger schema version %d", version)
	}
	return nil
}
