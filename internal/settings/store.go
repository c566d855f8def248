package settings

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
)

// KV is the external key/value store the parameter records persist
// through. The storage package provides the bbolt-backed implementation.
type KV interface {
	// SaveBlock writes the masked fields of value for the block type.
	SaveBlock(block BlockType, mask ParameterMask, value ParameterValue) error
	// LoadBlock reads a block's record. The returned mask reports which
	// fields were present and well-formed; absent fields keep the zero
	// value and must be defaulted by the caller.
	LoadBlock(block BlockType) (ParameterValue, ParameterMask, error)
}

// Store is the per-block-type parameter store.
type Store struct {
	mu       sync.Mutex
	values   [BlockCount]ParameterValue
	defaults ParameterValue

	// localUploadOK reports whether this platform allows http:// local
	// upload destinations at all.
	localUploadOK bool

	kv  KV
	log *zap.Logger

	cbMu sync.Mutex
	// Callback registrations, most recent first. At most one callback
	// per block fires on a change: the most recently registered one
	// whose module maps to the block.
	callbacks []callbackEntry
}

type callbackEntry struct {
	moduleID uint32
	block    BlockType
	cb       ChangeCallback
}

// NewStore creates a Store seeded with defaults for every block type.
// kv may be nil (volatile store, used in tests).
func NewStore(defaults ParameterValue, localUploadOK bool, kv KV, log *zap.Logger) *Store {
	s := &Store{
		defaults:      defaults,
		localUploadOK: localUploadOK,
		kv:            kv,
		log:           log,
	}
	for i := range s.values {
		s.values[i] = defaults
	}
	return s
}

// Get returns a snapshot copy of the block's parameters.
func (s *Store) Get(block BlockType) (ParameterValue, error) {
	if block < 0 || int(block) >= BlockCount {
		return ParameterValue{}, fmt.Errorf("%w: block type %d", ErrParam, block)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[block], nil
}

// GetForModule returns the parameters of the block the module belongs to.
func (s *Store) GetForModule(moduleID uint32) (ParameterValue, error) {
	block, ok := BlockForModule(moduleID)
	if !ok {
		return ParameterValue{}, fmt.Errorf("%w: module id %#x", ErrParam, moduleID)
	}
	return s.Get(block)
}

// Set validates value against mask and applies the selected fields to
// the block's record. BlockAll broadcasts to every block. After a
// successful mutation the affected blocks' change callbacks are invoked
// on the caller's goroutine, outside the store lock, and the new record
// is persisted through the external KV.
func (s *Store) Set(block BlockType, value ParameterValue, mask ParameterMask) error {
	if block < 0 || block > BlockAll {
		return fmt.Errorf("%w: block type %d", ErrParam, block)
	}
	if !mask.Any() {
		return nil
	}

	targets := []BlockType{block}
	if block == BlockAll {
		targets = []BlockType{BlockSysApp, BlockSensor, BlockAiisp, BlockVicapp}
	}

	for _, t := range targets {
		if err := s.validate(t, value, mask); err != nil {
			return err
		}
	}

	changed := make([]ParameterValue, 0, len(targets))
	s.mu.Lock()
	for _, t := range targets {
		v := &s.values[t]
		if mask.DlogDest {
			v.DlogDest = value.DlogDest
		}
		if mask.DlogLevel {
			v.DlogLevel = value.DlogLevel
		}
		if mask.ElogLevel {
			v.ElogLevel = value.ElogLevel
		}
		if mask.DlogFilter {
			v.DlogFilter = value.DlogFilter
		}
		if mask.StorageName {
			v.StorageName = value.StorageName
		}
		if mask.StoragePath {
			v.StoragePath = value.StoragePath
		}
		changed = append(changed, *v)
	}
	s.mu.Unlock()

	for i, t := range targets {
		if s.kv != nil {
			if err := s.kv.SaveBlock(t, mask, changed[i]); err != nil {
				s.log.Error("settings save failed",
					zap.String("block", t.String()), zap.Error(err))
			}
		}
		s.notify(t, changed[i])
	}
	return nil
}

// Load reads a block's record from the external KV, replacing absent or
// malformed fields with the configured defaults.
func (s *Store) Load(block BlockType) error {
	if block < 0 || int(block) >= BlockCount {
		return fmt.Errorf("%w: block type %d", ErrParam, block)
	}
	if s.kv == nil {
		return nil
	}
	loaded, present, err := s.kv.LoadBlock(block)
	if err != nil {
		s.log.Warn("settings load failed, applying defaults",
			zap.String("block", block.String()), zap.Error(err))
		loaded, present = ParameterValue{}, ParameterMask{}
	}

	v := s.defaults
	if present.DlogDest {
		v.DlogDest = loaded.DlogDest
	}
	if present.DlogLevel {
		v.DlogLevel = loaded.DlogLevel
	}
	if present.ElogLevel {
		v.ElogLevel = loaded.ElogLevel
	}
	if present.DlogFilter {
		v.DlogFilter = loaded.DlogFilter
	}
	if present.StorageName {
		v.StorageName = loaded.StorageName
	}
	if present.StoragePath {
		v.StoragePath = loaded.StoragePath
	}

	s.mu.Lock()
	s.values[block] = v
	s.mu.Unlock()
	return nil
}

// LoadAll loads every stored block type.
func (s *Store) LoadAll() error {
	for b := BlockSysApp; int(b) < BlockCount; b++ {
		if err := s.Load(b); err != nil {
			return err
		}
	}
	return nil
}

// SaveAll persists every stored block type with a full mask. Invoked by
// the clock manager after a successful NTP sync so the records carry
// trustworthy timestamps.
func (s *Store) SaveAll() error {
	if s.kv == nil {
		return nil
	}
	full := ParameterMask{}.All()
	for b := BlockSysApp; int(b) < BlockCount; b++ {
		s.mu.Lock()
		v := s.values[b]
		s.mu.Unlock()
		if err := s.kv.SaveBlock(b, full, v); err != nil {
			return fmt.Errorf("save block %s: %w", b, err)
		}
	}
	return nil
}

// FactoryReset restores every block to the configured defaults and
// persists the result.
func (s *Store) FactoryReset() error {
	s.mu.Lock()
	for i := range s.values {
		s.values[i] = s.defaults
	}
	s.mu.Unlock()
	return s.SaveAll()
}

// validate applies the per-field rules for the masked fields.
func (s *Store) validate(block BlockType, value ParameterValue, mask ParameterMask) error {
	if mask.DlogDest {
		if value.DlogDest < DestUart || value.DlogDest >= destCount {
			return fmt.Errorf("%w: dlog_dest %d", ErrParam, value.DlogDest)
		}
	}
	if mask.DlogLevel {
		if value.DlogLevel < LevelCritical || value.DlogLevel >= levelCount {
			return fmt.Errorf("%w: dlog_level %d", ErrParam, value.DlogLevel)
		}
	}
	if mask.ElogLevel {
		if value.ElogLevel < LevelCritical || value.ElogLevel >= levelCount {
			return fmt.Errorf("%w: elog_level %d", ErrParam, value.ElogLevel)
		}
	}
	if mask.StoragePath {
		if err := checkStoragePath(value.StoragePath); err != nil {
			return err
		}
	}
	if mask.StorageName {
		if err := s.checkStorageName(block, value.StorageName); err != nil {
			return err
		}
	}
	return nil
}

func checkStoragePath(path string) error {
	// Empty clears the path.
	if path == "" {
		return nil
	}
	if len(path) >= StoragePathMaxLen {
		return fmt.Errorf("%w: storage_path length %d", ErrParam, len(path))
	}
	switch path[len(path)-1] {
	case '.', '/', '\\':
		return fmt.Errorf("%w: storage_path %q", ErrParam, path)
	}
	for _, r := range path {
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: storage_path contains whitespace", ErrParam)
		}
	}
	return nil
}

func (s *Store) checkStorageName(block BlockType, name string) error {
	// Empty clears the name.
	if name == "" {
		return nil
	}
	if len(name) >= StorageNameMaxLen {
		return fmt.Errorf("%w: storage_name length %d", ErrParam, len(name))
	}
	if IsLocalUpload(name) {
		if !s.localUploadOK || block != BlockVicapp {
			return fmt.Errorf("%w: storage_name %q not permitted for block %s",
				ErrParam, name, block)
		}
	}
	return nil
}

// IsLocalUpload reports whether a storage name designates the http://
// local upload route rather than cloud multi-storage.
func IsLocalUpload(name string) bool {
	return strings.HasPrefix(name, HTTPPrefix)
}

// RegisterCallback registers cb for the block the module maps to. The
// most recent registration for a block wins.
func (s *Store) RegisterCallback(moduleID uint32, cb ChangeCallback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", ErrParam)
	}
	block, ok := BlockForModule(moduleID)
	if !ok {
		return fmt.Errorf("%w: module id %#x", ErrParam, moduleID)
	}
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append([]callbackEntry{{moduleID: moduleID, block: block, cb: cb}}, s.callbacks...)
	return nil
}

// UnregisterCallback removes the registration for moduleID.
func (s *Store) UnregisterCallback(moduleID uint32) error {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	for i, e := range s.callbacks {
		if e.moduleID == moduleID {
			s.callbacks = append(s.callbacks[:i], s.callbacks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: module id %#x not registered", ErrParam, moduleID)
}

// notify invokes the most recently registered callback for the block, if
// any, with the post-change value. Runs on the caller's goroutine with
// no store locks held.
func (s *Store) notify(block BlockType, value ParameterValue) {
	s.cbMu.Lock()
	var entry *callbackEntry
	for i := range s.callbacks {
		if s.callbacks[i].block == block {
			entry = &s.callbacks[i]
			break
		}
	}
	var moduleID uint32
	var cb ChangeCallback
	if entry != nil {
		moduleID, cb = entry.moduleID, entry.cb
	}
	s.cbMu.Unlock()

	if cb != nil {
		cb.OnSettingsChange(moduleID, value)
	}
}
