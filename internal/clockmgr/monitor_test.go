package clockmgr

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/platform"
)

// fakeNtp scripts the daemon-liveness and sync-status sequences.
type fakeNtp struct {
	mu         sync.Mutex
	activeSeq  []bool // consumed per IsDaemonActive call; true afterwards
	syncStatus platform.NtpSyncStatus
	restarts   int
	starts     int
	stops      int
}

func (f *fakeNtp) IsDaemonActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.activeSeq) > 0 {
		v := f.activeSeq[0]
		f.activeSeq = f.activeSeq[1:]
		return v
	}
	return true
}

func (f *fakeNtp) StartDaemon() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return nil
}

func (f *fakeNtp) RestartDaemon() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeNtp) StopDaemon() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeNtp) SampleSyncStatus() platform.NtpSyncStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncStatus
}

func (f *fakeNtp) setSync(s platform.NtpSyncStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncStatus = s
}

func (f *fakeNtp) counters() (restarts, starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts, f.starts, f.stops
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

// Dead-daemon handling: N consecutive dead samples trigger exactly N
// restart attempts; once the daemon reports alive no further restart
// occurs.
func TestMonitor_RestartCounting(t *testing.T) {
	const deadSamples = 3
	ops := &fakeNtp{
		activeSeq:  []bool{false, false, false},
		syncStatus: platform.SyncFailure,
	}
	notifier := NewNotifier(nil, zap.NewNop())
	notifier.Start()
	defer notifier.Stop()

	mon := NewMonitor(ops, notifier, 10*time.Millisecond, time.Second,
		observability.NewMetrics(), zap.NewNop())
	mon.Start()

	waitFor(t, 2*time.Second, func() bool {
		restarts, _, _ := ops.counters()
		return restarts == deadSamples
	})
	// Give the loop several more iterations with the daemon alive.
	time.Sleep(100 * time.Millisecond)
	restarts, _, _ := ops.counters()
	if restarts != deadSamples {
		t.Fatalf("restarts = %d, want exactly %d", restarts, deadSamples)
	}

	mon.Stop()
	_, _, stops := ops.counters()
	if stops != 1 {
		t.Fatalf("stops = %d, want 1 (daemon stopped on exit)", stops)
	}
}

// The sync-complete notification is delivered once per run cycle and
// triggers the parameter persist hook.
func TestMonitor_SyncCompleteOnce(t *testing.T) {
	ops := &fakeNtp{syncStatus: platform.SyncFailure}

	var mu sync.Mutex
	var callbacks []bool
	var persists int
	notifier := NewNotifier(func() error {
		mu.Lock()
		persists++
		mu.Unlock()
		return nil
	}, zap.NewNop())
	notifier.RegisterCallback(func(ok bool) {
		mu.Lock()
		callbacks = append(callbacks, ok)
		mu.Unlock()
	})
	notifier.Start()
	defer notifier.Stop()

	mon := NewMonitor(ops, notifier, 10*time.Millisecond, time.Second,
		observability.NewMetrics(), zap.NewNop())
	mon.Start()
	defer mon.Stop()

	time.Sleep(50 * time.Millisecond)
	ops.setSync(platform.SyncSuccess)

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(callbacks) == 1
	})
	// More successful samples must not repost.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(callbacks) != 1 || !callbacks[0] {
		t.Fatalf("callbacks = %v, want one successful notification", callbacks)
	}
	if persists != 1 {
		t.Fatalf("persists = %d, want 1", persists)
	}
}

func TestManagerLifecycle(t *testing.T) {
	ops := &fakeNtp{syncStatus: platform.SyncSuccess}
	mgr := NewManager(ops, nil, 10*time.Millisecond, time.Second,
		observability.NewMetrics(), zap.NewNop())

	if err := mgr.RegisterSyncComplete(func(bool) {}); err == nil {
		t.Fatal("register before Init must fail")
	}

	if err := mgr.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := mgr.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if err := mgr.RegisterSyncComplete(func(bool) {}); err != nil {
		t.Fatalf("RegisterSyncComplete: %v", err)
	}
	if err := mgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The daemon is started before the monitor goroutine.
	_, starts, _ := ops.counters()
	if starts != 1 {
		t.Fatalf("starts = %d, want 1", starts)
	}

	if err := mgr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := mgr.UnregisterSyncComplete(); err != nil {
		t.Fatalf("UnregisterSyncComplete: %v", err)
	}
	if err := mgr.Deinit(); err != nil {
		t.Fatalf("Deinit: %v", err)
	}
	if err := mgr.Deinit(); err != nil {
		t.Fatalf("second Deinit: %v", err)
	}
}
