package clockmgr

import (
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/lifecycle"
	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/platform"
)

// Manager is the clock-manager facade: lifecycle around the monitor and
// notifier pair.
type Manager struct {
	state    *lifecycle.Machine
	ops      platform.NtpOps
	notifier *Notifier
	monitor  *Monitor
	polling  time.Duration
	errTime  time.Duration
	metrics  *observability.Metrics
	log      *zap.Logger
}

// NewManager wires the clock manager. persist is handed to the notifier
// and invoked after a successful sync; it may be nil.
func NewManager(ops platform.NtpOps, persist func() error,
	polling, errTime time.Duration, metrics *observability.Metrics,
	log *zap.Logger) *Manager {
	return &Manager{
		state:    lifecycle.New(),
		ops:      ops,
		polling:  polling,
		errTime:  errTime,
		metrics:  metrics,
		log:      log,
		notifier: NewNotifier(persist, log),
	}
}

// Init transitions IDLE → READY.
func (m *Manager) Init() error {
	run, err := m.state.BeginInit()
	if err != nil {
		return err
	}
	if !run {
		return nil
	}
	m.state.CommitInit(true)
	return nil
}

// Start launches the notifier, starts the NTP daemon, then launches the
// monitor. The daemon is started before the monitor goroutine.
func (m *Manager) Start() error {
	if err := m.state.BeginStart(); err != nil {
		return err
	}

	m.notifier.Start()

	if err := m.ops.StartDaemon(); err != nil {
		// A dead daemon is the monitor's normal workload; log and go on.
		m.log.Warn("ntp client daemon start failed", zap.Error(err))
	}

	m.monitor = NewMonitor(m.ops, m.notifier, m.polling, m.errTime, m.metrics, m.log)
	m.monitor.Start()

	m.state.CommitStart(true)
	return nil
}

// Stop tears down the monitor (which stops the daemon) and the notifier.
func (m *Manager) Stop() error {
	if err := m.state.BeginStop(); err != nil {
		return err
	}
	m.monitor.Stop()
	m.monitor = nil
	m.notifier.Stop()
	m.state.CommitStop(true)
	return nil
}

// Deinit transitions READY → IDLE.
func (m *Manager) Deinit() error {
	run, err := m.state.BeginDeinit()
	if err != nil {
		return err
	}
	if !run {
		return nil
	}
	m.notifier.UnregisterCallback()
	m.state.CommitDeinit(true)
	return nil
}

// RegisterSyncComplete installs the sync-complete callback. Permitted in
// READY and RUNNING (deferred wiring).
func (m *Manager) RegisterSyncComplete(cb SyncCompleteCallback) error {
	if err := m.state.Require(lifecycle.StateReady, lifecycle.StateRunning); err != nil {
		return err
	}
	m.notifier.RegisterCallback(cb)
	return nil
}

// UnregisterSyncComplete removes the sync-complete callback.
func (m *Manager) UnregisterSyncComplete() error {
	if err := m.state.Require(lifecycle.StateReady, lifecycle.StateRunning); err != nil {
		return err
	}
	m.notifier.UnregisterCallback()
	return nil
}
