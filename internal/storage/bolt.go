// Package storage — bolt.go
//
// BoltDB-backed persistent key/value store for the EDGELOGD parameter
// records. This is the subsystem's view of the device's parameter
// storage; each logging setting is one item keyed by name.
//
// Schema (BoltDB bucket layout):
//
//	/parameters
//	    key:   <ItemName><N>   N in 1..4 (block index + 1)
//	    value: item payload (see below)
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Item payloads:
//   - DebugLogLevel[N], EventLogLevel[N]: one-character numeric "2".."8"
//     per the device's severity table {'2','3','4','6','7','8'} for
//     critical..trace; '5' is not assigned.
//   - DebugLogDestination[N]: one-character numeric "1".."3"
//     (destination + 1).
//   - LogFilter[N], LogUseFlash[N]: raw 4-byte little-endian records.
//   - StorageName[N], StorageSubDirectoryPath[N]: UTF-8 strings.
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent
//     writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//
// Failure modes:
//   - File corruption: bbolt detects via CRC and returns an error on
//     Open(). The subsystem refuses to start.
//   - Disk full: bbolt.Update() returns an error. The mutation is logged
//     and the in-memory record remains authoritative.
package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/edgelogd/edgelogd/internal/settings"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// bucketParameters holds the per-block persisted items.
	bucketParameters = "parameters"

	// bucketMeta holds schema metadata.
	bucketMeta = "meta"
)

// Persisted item name stems. The block index + 1 is appended.
const (
	itemDlogLevel   = "DebugLogLevel"
	itemElogLevel   = "EventLogLevel"
	itemDlogDest    = "DebugLogDestination"
	itemDlogFilter  = "LogFilter"
	itemUseFlash    = "LogUseFlash"
	itemStorageName = "StorageName"
	itemStoragePath = "StorageSubDirectoryPath"
)

// DB wraps a BoltDB instance with the parameter-item codec.
type DB struct {
	db *bolt.DB

	// resetCb runs after a factory reset wipes the parameter bucket.
	resetCb func() error
}

// Open opens (or creates) the store at the given path and initialises
// the required buckets.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketParameters, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, subsystem requires %q",
				string(v), SchemaVersion)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

func itemKey(stem string, block settings.BlockType) []byte {
	return []byte(fmt.Sprintf("%s%d", stem, int(block)+1))
}

// SaveBlock writes the masked fields of value for the block type.
// Implements settings.KV.
func (d *DB) SaveBlock(block settings.BlockType, mask settings.ParameterMask, value settings.ParameterValue) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketParameters))

		put := func(stem string, payload []byte) error {
			if err := b.Put(itemKey(stem, block), payload); err != nil {
				return fmt.Errorf("put %s[%d]: %w", stem, int(block)+1, err)
			}
			return nil
		}

		if mask.DlogLevel {
			if err := put(itemDlogLevel, []byte{levelChar(value.DlogLevel)}); err != nil {
				return err
			}
		}
		if mask.ElogLevel {
			if err := put(itemElogLevel, []byte{levelChar(value.ElogLevel)}); err != nil {
				return err
			}
		}
		if mask.DlogDest {
			if err := put(itemDlogDest, []byte{destChar(value.DlogDest)}); err != nil {
				return err
			}
			raw := make([]byte, 4)
			if value.DlogDest != settings.DestUart {
				binary.LittleEndian.PutUint32(raw, 1)
			}
			if err := put(itemUseFlash, raw); err != nil {
				return err
			}
		}
		if mask.DlogFilter {
			raw := make([]byte, 4)
			binary.LittleEndian.PutUint32(raw, value.DlogFilter)
			if err := put(itemDlogFilter, raw); err != nil {
				return err
			}
		}
		if mask.StorageName {
			if err := put(itemStorageName, []byte(value.StorageName)); err != nil {
				return err
			}
		}
		if mask.StoragePath {
			if err := put(itemStoragePath, []byte(value.StoragePath)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadBlock reads a block's record. The returned mask reports which
// fields were present and well-formed. Implements settings.KV.
func (d *DB) LoadBlock(block settings.BlockType) (settings.ParameterValue, settings.ParameterMask, error) {
	var value settings.ParameterValue
	var present settings.ParameterMask

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketParameters))

		if raw := b.Get(itemKey(itemDlogLevel, block)); len(raw) == 1 {
			if lvl, ok := parseLevelChar(raw[0]); ok {
				value.DlogLevel = lvl
				present.DlogLevel = true
			}
		}
		if raw := b.Get(itemKey(itemElogLevel, block)); len(raw) == 1 {
			if lvl, ok := parseLevelChar(raw[0]); ok {
				value.ElogLevel = lvl
				present.ElogLevel = true
			}
		}
		if raw := b.Get(itemKey(itemDlogDest, block)); len(raw) == 1 {
			if dest, ok := parseDestChar(raw[0]); ok {
				value.DlogDest = dest
				present.DlogDest = true
			}
		}
		if raw := b.Get(itemKey(itemDlogFilter, block)); len(raw) == 4 {
			value.DlogFilter = binary.LittleEndian.Uint32(raw)
			present.DlogFilter = true
		}
		if raw := b.Get(itemKey(itemStorageName, block)); raw != nil {
			if len(raw) < settings.StorageNameMaxLen {
				value.StorageName = string(raw)
				present.StorageName = true
			}
		}
		if raw := b.Get(itemKey(itemStoragePath, block)); raw != nil {
			if len(raw) < settings.StoragePathMaxLen {
				value.StoragePath = string(raw)
				present.StoragePath = true
			}
		}
		return nil
	})
	if err != nil {
		return settings.ParameterValue{}, settings.ParameterMask{}, err
	}
	return value, present, nil
}

// OnFactoryReset registers the callback invoked after FactoryReset wipes
// the parameter bucket. The callback restores the in-memory defaults.
func (d *DB) OnFactoryReset(cb func() error) {
	d.resetCb = cb
}

// FactoryReset deletes every persisted parameter item and invokes the
// registered reset callback.
func (d *DB) FactoryReset() error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketParameters)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketParameters))
		return err
	})
	if err != nil {
		return fmt.Errorf("factory reset: %w", err)
	}
	if d.resetCb != nil {
		return d.resetCb()
	}
	return nil
}

// levelChars is the persisted one-character numeric per severity,
// critical..trace. '5' is not assigned on this device generation.
var levelChars = [...]byte{'2', '3', '4', '6', '7', '8'}

// levelChar encodes a severity as its persisted one-character numeric.
func levelChar(l settings.Level) byte {
	if l < 0 || int(l) >= len(levelChars) {
		return levelChars[0]
	}
	return levelChars[l]
}

func parseLevelChar(c byte) (settings.Level, bool) {
	for i, lc := range levelChars {
		if c == lc {
			return settings.Level(i), true
		}
	}
	return 0, false
}

// destChar encodes a destination as the persisted one-character numeric
// ("1".."3", destination + 1).
func destChar(dest settings.DlogDest) byte {
	return byte('1' + int(dest))
}

func parseDestChar(c byte) (settings.DlogDest, bool) {
	if c < '1' || c > '3' {
		return 0, false
	}
	return settings.DlogDest(c - '1'), true
}
