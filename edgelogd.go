// Package edgelogd is the on-device logging and telemetry subsystem of
// an edge-AI camera firmware.
//
// Two observability paths run side by side:
//
//	Dlog — high-volume structured debug bytes. Producers write into a
//	       double-buffered set of RAM ring planes; filled planes are
//	       handed to a worker, optionally encrypted, and uploaded as
//	       blobs either to cloud multi-storage or to a local http://
//	       endpoint through the device's agent runtime.
//	Elog — low-volume event records serialized to JSON and published as
//	       telemetry on the "event_log" topic, with a bounded in-memory
//	       spill across agent disconnects.
//
// A LogManager owns the whole pipeline. Its lifecycle is
// Init → Start → Stop → Deinit, serialized by the state machine in
// internal/lifecycle; operational calls require the RUNNING state.
package edgelogd

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/agent"
	"github.com/edgelogd/edgelogd/internal/config"
	"github.com/edgelogd/edgelogd/internal/dlog"
	"github.com/edgelogd/edgelogd/internal/elog"
	"github.com/edgelogd/edgelogd/internal/lifecycle"
	"github.com/edgelogd/edgelogd/internal/msgqueue"
	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/platform"
	"github.com/edgelogd/edgelogd/internal/settings"
	"github.com/edgelogd/edgelogd/internal/uploader"
)

// Public error surface. Inner failures are logged in detail and folded
// into these three kinds; success is a nil error.
var (
	// ErrFailed is the generic internal failure.
	ErrFailed = errors.New("edgelogd: failed")
	// ErrParam matches any parameter validation failure.
	ErrParam = settings.ErrParam
	// ErrStateTransition matches lifecycle misuse.
	ErrStateTransition = lifecycle.ErrTransition
)

// Re-exported settings types; they are the facade's parameter surface.
type (
	BlockType      = settings.BlockType
	ParameterValue = settings.ParameterValue
	ParameterMask  = settings.ParameterMask
	ChangeCallback = settings.ChangeCallback
	Level          = settings.Level
)

// ElogMessage is one event-log record.
type ElogMessage = elog.Message

// BulkDlogCallback is invoked once when a bulk Dlog buffer has been
// finalized (uploaded or discarded).
type BulkDlogCallback = uploader.CompletionCallback

// RAMInfo describes one log storage region.
type RAMInfo struct {
	Size uint32
	Num  uint32
}

// LogInfo is the GetLogInfo report.
type LogInfo struct {
	DlogRAM   RAMInfo
	ElogRAM   RAMInfo
	DlogFlash RAMInfo
	ElogFlash RAMInfo
}

// LogManager owns the Dlog and Elog pipelines, the settings store, and
// the worker goroutines.
type LogManager struct {
	cfg     *config.Config
	agt     agent.Agent
	kv      settings.KV
	enc     dlog.Encryptor
	metrics *observability.Metrics
	log     *zap.Logger

	state *lifecycle.Machine

	store *settings.Store
	local *uploader.List
	cloud *uploader.List

	dlogQueue  *msgqueue.Queue[dlog.Notification]
	ingest     *dlog.Ingest
	dlogWorker *dlog.Worker

	elogQueue  *msgqueue.Queue[elog.Envelope]
	elogWorker *elog.Worker

	blobWorker *uploader.Worker
}

// New creates a LogManager over the given collaborators. kv and enc may
// be nil (volatile settings, no encryption).
func New(cfg *config.Config, agt agent.Agent, kv settings.KV,
	enc dlog.Encryptor, metrics *observability.Metrics, log *zap.Logger) *LogManager {
	return &LogManager{
		cfg:     cfg,
		agt:     agt,
		kv:      kv,
		enc:     enc,
		metrics: metrics,
		log:     log,
		state:   lifecycle.New(),
	}
}

// Init transitions IDLE → READY: the settings store and the upload lists
// are built. A second Init from READY succeeds with no side effects.
func (m *LogManager) Init() error {
	run, err := m.state.BeginInit()
	if err != nil {
		return err
	}
	if !run {
		return nil
	}

	defaults := settings.ParameterValue{
		DlogDest:    settings.DlogDest(m.cfg.Settings.DlogDest),
		DlogLevel:   settings.Level(m.cfg.Settings.DlogLevel),
		ElogLevel:   settings.Level(m.cfg.Settings.ElogLevel),
		DlogFilter:  m.cfg.Settings.DlogFilter,
		StorageName: m.cfg.Settings.StorageName,
		StoragePath: m.cfg.Settings.StoragePath,
	}
	m.store = settings.NewStore(defaults, m.cfg.Settings.LocalUploadAvailable, m.kv, m.log)
	m.local = uploader.NewList(m.cfg.Upload.LocalListMax)
	m.cloud = uploader.NewList(m.cfg.Upload.CloudListMax)

	m.state.CommitInit(true)
	return nil
}

// Start transitions READY → RUNNING: settings are loaded from the
// external KV, the ring planes are created (once — never reallocated),
// and the three worker goroutines are launched. On failure every
// successfully started piece is unwound in reverse and the state rolls
// back to READY.
func (m *LogManager) Start() error {
	if err := m.state.BeginStart(); err != nil {
		return err
	}

	var teardown []func()
	fail := func(err error) error {
		for i := len(teardown) - 1; i >= 0; i-- {
			teardown[i]()
		}
		m.state.CommitStart(false)
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}

	if err := m.store.LoadAll(); err != nil {
		return fail(err)
	}

	if m.dlogQueue == nil {
		m.dlogQueue = msgqueue.Open[dlog.Notification](m.cfg.Dlog.QueueSize, 1)
	}
	if m.ingest == nil {
		ingest, err := dlog.NewIngest(
			m.cfg.Dlog.RAMBufferPlaneSize, m.cfg.Dlog.RAMBufferPlanes,
			m.cfg.Dlog.CriticalUploadTimeout, m.dlogQueue, m.metrics, m.log)
		if err != nil {
			return fail(err)
		}
		m.ingest = ingest
	}

	m.dlogWorker = dlog.NewWorker(m.ingest, m.dlogQueue, m.local, m.cloud,
		m.store, m.enc, m.cfg.Dlog.MsgTimeout, m.metrics, m.log)
	m.dlogWorker.Start()
	teardown = append(teardown, func() { m.dlogWorker.Fin(); m.dlogWorker = nil })

	m.elogQueue = msgqueue.Open[elog.Envelope](m.cfg.Elog.QueueSize, elog.QueueReserve)
	m.elogWorker = elog.NewWorker(m.agt, m.elogQueue, m.store,
		platform.SerialNumber(), m.cfg.Elog.SaveMax, m.metrics, m.log)
	m.elogWorker.Start()
	teardown = append(teardown, func() { m.elogWorker.Destroy(); m.elogWorker = nil })

	m.blobWorker = uploader.NewWorker(m.agt, m.local, m.cloud, m.store,
		uploader.Config{
			BlobTimeout: m.cfg.Upload.BlobTimeout,
			MaxRetry:    m.cfg.Upload.MaxRetry,
			RetrySleep:  m.cfg.Upload.RetrySleep,
		}, m.metrics, m.log)
	m.blobWorker.Start()

	m.state.CommitStart(true)
	return nil
}

// Stop transitions RUNNING → READY: the worker goroutines exit via their
// fin commands and are joined. Ring planes and pending upload lists
// survive until Deinit.
func (m *LogManager) Stop() error {
	if err := m.state.BeginStop(); err != nil {
		return err
	}

	m.dlogWorker.Fin()
	m.dlogWorker = nil

	m.elogWorker.Destroy()
	m.elogWorker = nil

	m.blobWorker.Stop()
	m.blobWorker = nil

	m.state.CommitStop(true)
	return nil
}

// Deinit transitions READY → IDLE: ring planes are destroyed and the
// pending upload lists dropped. A second Deinit from IDLE succeeds with
// no side effects.
func (m *LogManager) Deinit() error {
	run, err := m.state.BeginDeinit()
	if err != nil {
		return err
	}
	if !run {
		return nil
	}

	if m.ingest != nil {
		m.ingest.Close()
		m.ingest = nil
	}
	if m.dlogQueue != nil {
		m.dlogQueue.Close()
		m.dlogQueue = nil
	}
	m.local.Clear()
	m.cloud.Clear()

	m.state.CommitDeinit(true)
	return nil
}

// SetParameter applies the masked fields of value to the block's
// settings. Requires RUNNING.
func (m *LogManager) SetParameter(block BlockType, value ParameterValue, mask ParameterMask) error {
	if err := m.state.Require(lifecycle.StateRunning); err != nil {
		return err
	}
	return m.store.Set(block, value, mask)
}

// GetParameter returns a snapshot of the block's settings. Requires
// RUNNING.
func (m *LogManager) GetParameter(block BlockType) (ParameterValue, error) {
	if err := m.state.Require(lifecycle.StateRunning); err != nil {
		return ParameterValue{}, err
	}
	return m.store.Get(block)
}

// GetModuleParameter returns the settings of the block the module maps
// to. Requires RUNNING.
func (m *LogManager) GetModuleParameter(moduleID uint32) (ParameterValue, error) {
	if err := m.state.Require(lifecycle.StateRunning); err != nil {
		return ParameterValue{}, err
	}
	return m.store.GetForModule(moduleID)
}

// StoreDlog accepts raw debug-log bytes from a producer. Requires
// RUNNING.
func (m *LogManager) StoreDlog(data []byte, isCritical bool) error {
	if err := m.state.Require(lifecycle.StateRunning); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty dlog record", ErrParam)
	}
	if err := m.ingest.Write(data, isCritical); err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return nil
}

// SendElog accepts one event-log record. Records more verbose than the
// SysApp elog level are dropped silently with success. Requires RUNNING.
func (m *LogManager) SendElog(msg ElogMessage) error {
	if err := m.state.Require(lifecycle.StateRunning); err != nil {
		return err
	}
	if err := m.elogWorker.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return nil
}

// SendBulkDlog hands an already-assembled Dlog buffer directly to the
// upload pipeline. The buffer is copied; cb, if non-nil, is invoked once
// when the copy has been uploaded or discarded. Requires RUNNING.
func (m *LogManager) SendBulkDlog(moduleID uint32, data []byte, cb BulkDlogCallback, userData any) error {
	if err := m.state.Require(lifecycle.StateRunning); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty bulk dlog", ErrParam)
	}
	block, ok := settings.BlockForModule(moduleID)
	if !ok {
		return fmt.Errorf("%w: module id %#x", ErrParam, moduleID)
	}

	// Headroom for in-place encryption: pad to the cipher block size
	// plus one spare block.
	size := len(data)
	bufSize := size + (16 - size%16) + 16
	buf := make([]byte, bufSize)
	copy(buf, data)

	msg := dlog.Notification{
		Cmd:      dlog.CmdSendBulk,
		Data:     buf,
		DataSize: size,
		BufSize:  bufSize,
		Block:    block,
		Callback: cb,
		UserData: userData,
	}
	if err := m.dlogQueue.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
	return nil
}

// RegisterChangeDlogCallback installs cb for the block the module maps
// to. Permitted in READY and RUNNING (deferred wiring).
func (m *LogManager) RegisterChangeDlogCallback(moduleID uint32, cb ChangeCallback) error {
	if err := m.state.Require(lifecycle.StateReady, lifecycle.StateRunning); err != nil {
		return err
	}
	return m.store.RegisterCallback(moduleID, cb)
}

// UnregisterChangeDlogCallback removes the module's registration.
// Permitted in READY and RUNNING.
func (m *LogManager) UnregisterChangeDlogCallback(moduleID uint32) error {
	if err := m.state.Require(lifecycle.StateReady, lifecycle.StateRunning); err != nil {
		return err
	}
	return m.store.UnregisterCallback(moduleID)
}

// GetLogInfo reports the log storage dimensions. The flash regions are
// not present on this device generation.
func (m *LogManager) GetLogInfo() LogInfo {
	return LogInfo{
		DlogRAM: RAMInfo{
			Size: uint32(m.cfg.Dlog.RAMBufferPlaneSize),
			Num:  uint32(m.cfg.Dlog.RAMBufferPlanes),
		},
		ElogRAM: RAMInfo{
			Size: uint32(m.cfg.Elog.RAMBufferPlaneSize),
			Num:  uint32(m.cfg.Elog.RAMBufferPlanes),
		},
	}
}

// Store exposes the settings store for collaborators wired outside the
// facade (the clock manager persists parameters after NTP sync).
func (m *LogManager) Store() *settings.Store { return m.store }

// WaitDrain is a test and shutdown helper: it sleeps until the upload
// lists are empty or the timeout elapses.
func (m *LogManager) WaitDrain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.local.Len() == 0 && m.cloud.Len() == 0 {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return m.local.Len() == 0 && m.cloud.Len() == 0
}
