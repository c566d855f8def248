package settings

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDefaults() ParameterValue {
	return ParameterValue{
		DlogDest:  DestUart,
		DlogLevel: LevelInfo,
		ElogLevel: LevelInfo,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(testDefaults(), true, nil, zap.NewNop())
}

func TestSet_MaskedUpdate(t *testing.T) {
	s := newTestStore(t)

	err := s.Set(BlockSysApp, ParameterValue{
		DlogDest:   DestStore,
		DlogLevel:  LevelDebug,
		DlogFilter: 0xFF,
	}, ParameterMask{DlogDest: true, DlogFilter: true})
	require.NoError(t, err)

	got, err := s.Get(BlockSysApp)
	require.NoError(t, err)
	require.Equal(t, DestStore, got.DlogDest, "masked field updated")
	require.Equal(t, uint32(0xFF), got.DlogFilter, "masked field updated")
	require.Equal(t, LevelInfo, got.DlogLevel, "unmasked field untouched")
}

func TestSet_AllBroadcasts(t *testing.T) {
	s := newTestStore(t)

	err := s.Set(BlockAll, ParameterValue{DlogLevel: LevelTrace},
		ParameterMask{DlogLevel: true})
	require.NoError(t, err)

	for _, b := range []BlockType{BlockSysApp, BlockSensor, BlockAiisp, BlockVicapp} {
		got, err := s.Get(b)
		require.NoError(t, err)
		require.Equal(t, LevelTrace, got.DlogLevel, "block %s", b)
	}
}

func TestSet_ValidationFailureMutatesNothing(t *testing.T) {
	s := newTestStore(t)

	err := s.Set(BlockSysApp, ParameterValue{
		DlogDest:  DlogDest(42),
		DlogLevel: LevelDebug,
	}, ParameterMask{DlogDest: true, DlogLevel: true})
	require.ErrorIs(t, err, ErrParam)

	got, _ := s.Get(BlockSysApp)
	require.Equal(t, LevelInfo, got.DlogLevel, "no partial mutation")
}

func TestValidation_StoragePath(t *testing.T) {
	s := newTestStore(t)
	mask := ParameterMask{StoragePath: true}

	require.NoError(t, s.Set(BlockSysApp, ParameterValue{StoragePath: ""}, mask))
	require.NoError(t, s.Set(BlockSysApp, ParameterValue{StoragePath: "logs/cam0"}, mask))

	for _, bad := range []string{"logs.", "logs/", "logs\\", "has space", "tab\there"} {
		err := s.Set(BlockSysApp, ParameterValue{StoragePath: bad}, mask)
		require.ErrorIs(t, err, ErrParam, "path %q", bad)
	}
}

func TestValidation_StorageName(t *testing.T) {
	s := newTestStore(t)
	mask := ParameterMask{StorageName: true}

	require.NoError(t, s.Set(BlockSysApp, ParameterValue{StorageName: "mybucket"}, mask))

	long := make([]byte, StorageNameMaxLen)
	for i := range long {
		long[i] = 'a'
	}
	err := s.Set(BlockSysApp, ParameterValue{StorageName: string(long)}, mask)
	require.ErrorIs(t, err, ErrParam)

	// http:// destinations are only valid for Vicapp.
	err = s.Set(BlockSysApp, ParameterValue{StorageName: "http://host/path"}, mask)
	require.ErrorIs(t, err, ErrParam)
	require.NoError(t, s.Set(BlockVicapp, ParameterValue{StorageName: "http://host/path"}, mask))
}

func TestValidation_LocalUploadUnavailablePlatform(t *testing.T) {
	s := NewStore(testDefaults(), false, nil, zap.NewNop())
	err := s.Set(BlockVicapp, ParameterValue{StorageName: "http://host/path"},
		ParameterMask{StorageName: true})
	require.ErrorIs(t, err, ErrParam)
}

func TestChangeCallback_InvokedOncePerSet(t *testing.T) {
	s := newTestStore(t)

	var calls int
	var gotModule uint32
	var gotValue ParameterValue
	require.NoError(t, s.RegisterCallback(0x00000001, ChangeCallbackFunc(
		func(moduleID uint32, value ParameterValue) {
			calls++
			gotModule = moduleID
			gotValue = value
		})))

	err := s.Set(BlockSysApp, ParameterValue{DlogLevel: LevelWarn},
		ParameterMask{DlogLevel: true})
	require.NoError(t, err)

	require.Equal(t, 1, calls, "callback fires exactly once, before Set returns")
	require.Equal(t, uint32(0x00000001), gotModule)
	require.Equal(t, LevelWarn, gotValue.DlogLevel, "callback sees post-change value")

	// A change to an unrelated block does not fire it.
	require.NoError(t, s.Set(BlockSensor, ParameterValue{DlogLevel: LevelError},
		ParameterMask{DlogLevel: true}))
	require.Equal(t, 1, calls)
}

func TestChangeCallback_MostRecentWins(t *testing.T) {
	s := newTestStore(t)

	var first, second int
	require.NoError(t, s.RegisterCallback(0x00000001, ChangeCallbackFunc(
		func(uint32, ParameterValue) { first++ })))
	require.NoError(t, s.RegisterCallback(0x00000002, ChangeCallbackFunc(
		func(uint32, ParameterValue) { second++ })))

	require.NoError(t, s.Set(BlockSysApp, ParameterValue{DlogLevel: LevelWarn},
		ParameterMask{DlogLevel: true}))
	require.Equal(t, 0, first)
	require.Equal(t, 1, second)

	require.NoError(t, s.UnregisterCallback(0x00000002))
	require.NoError(t, s.Set(BlockSysApp, ParameterValue{DlogLevel: LevelError},
		ParameterMask{DlogLevel: true}))
	require.Equal(t, 1, first)
	require.Equal(t, 1, second)
}

func TestUnregisterCallback_UnknownModule(t *testing.T) {
	s := newTestStore(t)
	err := s.UnregisterCallback(0x00000400)
	if !errors.Is(err, ErrParam) {
		t.Fatalf("UnregisterCallback = %v, want ErrParam", err)
	}
}

func TestBlockForModule(t *testing.T) {
	cases := []struct {
		moduleID uint32
		block    BlockType
		ok       bool
	}{
		{0x00000001, BlockSysApp, true},
		{0x00200000, BlockSensor, true},
		{0x00400000, BlockAiisp, true},
		{0x00800000, BlockVicapp, true},
		{0x40000000, BlockSysApp, false},
	}
	for _, c := range cases {
		block, ok := BlockForModule(c.moduleID)
		if ok != c.ok || (ok && block != c.block) {
			t.Errorf("BlockForModule(%#x) = (%v, %v), want (%v, %v)",
				c.moduleID, block, ok, c.block, c.ok)
		}
	}
}

func TestFactoryReset_RestoresDefaults(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(BlockSensor, ParameterValue{DlogLevel: LevelTrace},
		ParameterMask{DlogLevel: true}))
	require.NoError(t, s.FactoryReset())
	got, _ := s.Get(BlockSensor)
	require.Equal(t, LevelInfo, got.DlogLevel)
}
