package bolt

import (
	"fmt"

	"github.com/goodtune/focusguard/internal/storage"
	"go.etcd.io/bbolt"
)

func readSchemaVersion(tx *bbolt.Tx) (int, error) {
	b := tx.Bucket([]byte(bucketMeta))
	if b == nil {
		return 0, nil
	}
	raw := b.Get([]byte(keySchemaVersion))
	if raw == nil {
		return 0, nil
	}
	var version int
	if err := unmarshal(raw, &version); err != nil {
		return 0, err
	}
	return version, nil
}

func writeSchemaVersion(tx *bbolt.Tx, version int) error {
	data, err := marshal(version)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(bucketMeta)).Put([]byte(keySchemaVersion), data)
}

// migrate brings the file up to storage.SchemaVersion. A file without a
// version but with usage entries is treated as version 1.
func (s *Store) migrate() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		version, err := readSchemaVersion(tx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}

		usage := tx.Bucket([]byte(bucketUsage))
		if version == 0 {
			if k, _ := usage.Cursor().First(); k == nil {
				return writeSchemaVersion(tx, storage.SchemaVersion)
			}
			version = 1
		}

		switch {
		case version > storage.SchemaVersion:
			return fmt.Errorf("schema version %d is newer than supported %d", version, storage.SchemaVersion)
		case version == storage.SchemaVersion:
			return nil
		}

		if version == 1 {
			converted := make(map[string][]byte)
			if err := usage.ForEach(func(k, v []byte) error {
				var seconds int64
				if err := unmarshal(v, &seconds); err != nil {
					return err
				}
				data, err := marshal(seconds * 1000)
				if err != nil {
					return err
				}
				converted[string(k)] = data
				return nil
			}); err != nil {
				return fmt.Errorf("migrate usage to milliseconds: %w", err)
			}
			for k, data := range converted {
				if err := usage.Put([]byte(k), data); err != nil {
					return fmt.Errorf("migrate usage to milliseconds: %w", err)
				}
			}
		}

		return writeSchemaVersion(tx, storage.SchemaVersion)
	})
}
