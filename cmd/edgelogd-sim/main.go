// Package main — cmd/edgelogd-sim/main.go
//
// EDGELOGD pipeline simulator.
//
// Purpose: exercise the full Dlog/Elog pipeline against the in-process
// agent simulator with synthetic producers, without device hardware.
// Useful for soak runs and for observing rotation, critical-deadline,
// retry, and spill behaviour under controlled load.
//
// The simulator:
//  1. Builds a LogManager over agent.Sim with volatile settings.
//  2. Spawns -producers goroutines writing -rate records/s each; every
//     -critical-nth record is marked critical.
//  3. Sends one Elog record per second.
//  4. Periodically injects agent blob failures (-fail-every).
//  5. Prints a pipeline summary on exit.
//
// Usage:
//
//	edgelogd-sim -duration 30s -producers 4 -rate 200 -critical-nth 500
package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd"
	"github.com/edgelogd/edgelogd/internal/agent"
	"github.com/edgelogd/edgelogd/internal/config"
	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/settings"
)

func main() {
	duration := flag.Duration("duration", 30*time.Second, "Run duration")
	producers := flag.Int("producers", 4, "Concurrent Dlog producer goroutines")
	rate := flag.Int("rate", 200, "Records per second per producer")
	criticalNth := flag.Int("critical-nth", 500, "Mark every Nth record critical (0=never)")
	failEvery := flag.Duration("fail-every", 0, "Inject one blob failure per interval (0=never)")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	cfg := config.Defaults()
	metrics := observability.NewMetrics()
	sim := agent.NewSim()

	mgr := edgelogd.New(&cfg, sim, nil, nil, metrics, log)
	if err := mgr.Init(); err != nil {
		log.Fatal("init failed", zap.Error(err))
	}
	if err := mgr.Start(); err != nil {
		log.Fatal("start failed", zap.Error(err))
	}

	// Route SysApp uploads to a named cloud storage.
	if err := mgr.SetParameter(settings.BlockSysApp,
		edgelogd.ParameterValue{StorageName: "sim-bucket"},
		edgelogd.ParameterMask{StorageName: true}); err != nil {
		log.Fatal("set parameter failed", zap.Error(err))
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for p := 0; p < *producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			interval := time.Second / time.Duration(*rate)
			tick := time.NewTicker(interval)
			defer tick.Stop()
			n := 0
			for {
				select {
				case <-stop:
					return
				case <-tick.C:
					n++
					critical := *criticalNth > 0 && n%*criticalNth == 0
					record := fmt.Sprintf("producer=%d seq=%d ts=%d\n", id, n, time.Now().UnixNano())
					if err := mgr.StoreDlog([]byte(record), critical); err != nil {
						log.Warn("store dlog failed", zap.Error(err))
					}
				}
			}
		}(p)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		tick := time.NewTicker(time.Second)
		defer tick.Stop()
		n := 0
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				n++
				if err := mgr.SendElog(edgelogd.ElogMessage{
					Level:       settings.LevelError,
					Timestamp:   time.Now().UTC().Format(time.RFC3339),
					ComponentID: 1,
					EventID:     n,
				}); err != nil {
					log.Warn("send elog failed", zap.Error(err))
				}
			}
		}
	}()

	if *failEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tick := time.NewTicker(*failEvery)
			defer tick.Stop()
			for {
				select {
				case <-stop:
					return
				case <-tick.C:
					sim.FailNextBlobs(1)
				}
			}
		}()
	}

	time.Sleep(*duration)
	close(stop)
	wg.Wait()

	mgr.WaitDrain(5 * time.Second)
	if err := mgr.Stop(); err != nil {
		log.Error("stop failed", zap.Error(err))
	}
	if err := mgr.Deinit(); err != nil {
		log.Error("deinit failed", zap.Error(err))
	}

	fmt.Fprintf(os.Stderr, "uploaded blobs: %d, telemetry messages: %d\n",
		len(sim.Blobs), len(sim.Telemetry))
}
