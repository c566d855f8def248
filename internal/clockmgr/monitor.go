package clockmgr

import (
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/platform"
)

// Monitor is the NTP supervision loop. Each iteration restarts the NTP
// client daemon if it has died, samples the sync state, and posts one
// sync-complete notification per run cycle.
type Monitor struct {
	ops      platform.NtpOps
	notifier *Notifier
	polling  time.Duration
	errTime  time.Duration
	metrics  *observability.Metrics
	log      *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewMonitor creates the monitor loop over the platform NTP surface.
func NewMonitor(ops platform.NtpOps, notifier *Notifier,
	polling, errTime time.Duration, metrics *observability.Metrics,
	log *zap.Logger) *Monitor {
	if polling <= 0 {
		polling = 10 * time.Second
	}
	return &Monitor{
		ops:      ops,
		notifier: notifier,
		polling:  polling,
		errTime:  errTime,
		metrics:  metrics,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the monitor goroutine.
func (m *Monitor) Start() {
	go m.run()
}

// Stop signals the loop and waits for it. The NTP daemon is stopped on
// the way out.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)
	m.log.Info("ntp monitor started",
		zap.Duration("polling", m.polling))

	posted := false
	var numErrors uint

	for {
		if !m.ops.IsDaemonActive() {
			m.log.Warn("ntp client daemon is dead, restarting")
			m.metrics.NtpRestartsTotal.Inc()
			if err := m.ops.RestartDaemon(); err != nil {
				m.log.Error("ntp client daemon restart failed", zap.Error(err))
			} else {
				m.log.Info("ntp client daemon restarted")
			}
		}

		switch m.ops.SampleSyncStatus() {
		case platform.SyncSuccess:
			numErrors = 0
			if !posted {
				m.notifier.PostSyncComplete(true)
				m.metrics.NtpSyncCompleteTotal.Inc()
				posted = true
			}
		default:
			numErrors++
			if time.Duration(numErrors)*m.polling >= m.errTime {
				m.log.Warn("ntp time sync has not completed",
					zap.Uint("samples", numErrors))
				numErrors = 0
			}
		}

		t := time.NewTimer(m.polling)
		select {
		case <-m.stop:
			t.Stop()
			if err := m.ops.StopDaemon(); err != nil {
				m.log.Error("ntp client daemon stop failed", zap.Error(err))
			}
			m.log.Info("ntp monitor finished")
			return
		case <-t.C:
		}
	}
}
