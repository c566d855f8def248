// Package settings holds the per-block-type logging configuration: the
// parameter store with masked updates, validation, persistence through
// the external key/value store, and the change-callback registry that
// notifies interested modules after a successful mutation.
package settings

import "errors"

// BlockType is a logical grouping of producing modules to which logging
// settings apply independently.
type BlockType int

const (
	BlockSysApp BlockType = iota
	BlockSensor
	BlockAiisp
	BlockVicapp
	// BlockAll is a pseudo-broadcast target for Set; it is never stored.
	BlockAll

	// BlockCount is the number of stored block types.
	BlockCount = int(BlockAll)
)

// String returns the block type name.
func (b BlockType) String() string {
	switch b {
	case BlockSysApp:
		return "sysapp"
	case BlockSensor:
		return "sensor"
	case BlockAiisp:
		return "aiisp"
	case BlockVicapp:
		return "vicapp"
	case BlockAll:
		return "all"
	}
	return "unknown"
}

// DlogDest selects where debug-log output is routed.
type DlogDest int

const (
	DestUart DlogDest = iota
	DestStore
	DestBoth

	destCount
)

// Level is the shared severity ordering for Dlog and Elog records.
// Lower values are more severe.
type Level int

const (
	LevelCritical Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace

	levelCount
)

const (
	// StorageNameMaxLen bounds the storage name including terminator
	// semantics of the persisted form; valid names are shorter.
	StorageNameMaxLen = 64
	// StoragePathMaxLen bounds the storage subdirectory prefix.
	StoragePathMaxLen = 64
	// HTTPPrefix marks a storage name as a local upload destination.
	HTTPPrefix = "http://"
)

// ErrParam is returned for any parameter validation failure.
var ErrParam = errors.New("settings: invalid parameter")

// ParameterValue is the full per-block configuration record.
type ParameterValue struct {
	DlogDest    DlogDest
	DlogLevel   Level
	ElogLevel   Level
	DlogFilter  uint32
	StorageName string
	StoragePath string
}

// ParameterMask selects which ParameterValue fields a Set applies.
type ParameterMask struct {
	DlogDest    bool
	DlogLevel   bool
	ElogLevel   bool
	DlogFilter  bool
	StorageName bool
	StoragePath bool
}

// All returns a mask with every field selected.
func (ParameterMask) All() ParameterMask {
	return ParameterMask{
		DlogDest:    true,
		DlogLevel:   true,
		ElogLevel:   true,
		DlogFilter:  true,
		StorageName: true,
		StoragePath: true,
	}
}

// Any reports whether at least one field is selected.
func (m ParameterMask) Any() bool {
	return m.DlogDest || m.DlogLevel || m.ElogLevel ||
		m.DlogFilter || m.StorageName || m.StoragePath
}

// ChangeCallback is invoked after a block's settings change. It receives
// the module id it was registered under and the full post-change value.
type ChangeCallback interface {
	OnSettingsChange(moduleID uint32, value ParameterValue)
}

// ChangeCallbackFunc adapts a function to the ChangeCallback interface.
type ChangeCallbackFunc func(moduleID uint32, value ParameterValue)

// OnSettingsChange implements ChangeCallback.
func (f ChangeCallbackFunc) OnSettingsChange(moduleID uint32, value ParameterValue) {
	f(moduleID, value)
}

// moduleGroup associates a producing-module bit with its block type.
type moduleGroup struct {
	moduleID uint32
	block    BlockType
}

// Module-id to block-type association. Module ids are single bits of the
// dlog filter mask.
var moduleGroups = []moduleGroup{
	{0x00000001, BlockSysApp}, // system app
	{0x00000002, BlockSysApp}, // initial setting app
	{0x00000004, BlockSysApp}, // runtime
	{0x00000008, BlockSysApp}, // sensor AI lib
	{0x00000010, BlockSysApp}, // sensor cord
	{0x00000020, BlockSysApp}, // AI-ISP VIC app
	{0x00000040, BlockSysApp}, // AI-ISP firmware
	{0x00000080, BlockSysApp}, // esf main
	{0x00000100, BlockSysApp}, // button manager
	{0x00000200, BlockSysApp}, // clock manager
	{0x00000400, BlockSysApp}, // firmware manager
	{0x00000800, BlockSysApp}, // led manager
	{0x00001000, BlockSysApp}, // log manager
	{0x00002000, BlockSysApp}, // memory manager
	{0x00004000, BlockSysApp}, // network manager
	{0x00008000, BlockSysApp}, // parameter storage manager
	{0x00010000, BlockSysApp}, // power manager
	{0x00020000, BlockSysApp}, // system manager
	{0x00100000, BlockSysApp}, // system app (alt id)
	{0x00200000, BlockSensor}, // sensor
	{0x00400000, BlockAiisp},  // aiisp
	{0x00800000, BlockVicapp}, // vicapp
	{0x80000000, BlockSysApp}, // other
}

// BlockForModule maps a module id to its block type.
func BlockForModule(moduleID uint32) (BlockType, bool) {
	for _, g := range moduleGroups {
		if g.moduleID == moduleID {
			return g.block, true
		}
	}
	return BlockSysApp, false
}
