package uploader

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/agent"
	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/settings"
)

// routeLocal / routeCloud label metrics and logs.
const (
	routeLocal = "local"
	routeCloud = "cloud"
)

// Config carries the worker knobs.
type Config struct {
	BlobTimeout time.Duration
	MaxRetry    int
	RetrySleep  time.Duration
}

// Worker is the blob upload event loop. It registers a sys client with
// the agent, then per iteration advances at most one local and one cloud
// upload step and drives one pass of the agent event pump.
type Worker struct {
	agt     agent.Agent
	client  agent.SysClient
	local   *List
	cloud   *List
	store   *settings.Store
	cfg     Config
	metrics *observability.Metrics
	log     *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewWorker creates a blob worker over the two upload lists.
func NewWorker(agt agent.Agent, local, cloud *List, store *settings.Store,
	cfg Config, metrics *observability.Metrics, log *zap.Logger) *Worker {
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}
	if cfg.BlobTimeout <= 0 {
		cfg.BlobTimeout = time.Second
	}
	if cfg.RetrySleep <= 0 {
		cfg.RetrySleep = time.Second
	}
	return &Worker{
		agt:     agt,
		local:   local,
		cloud:   cloud,
		store:   store,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop signals the loop to exit and waits for it.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			if w.client != nil {
				w.agt.UnregisterSysClient(w.client)
				w.client = nil
			}
			return
		default:
		}

		if w.client == nil {
			w.client = w.agt.RegisterSysClient()
			if w.client == nil {
				w.metrics.AgentRegistrationsTotal.WithLabelValues("dlog", "failed").Inc()
				w.log.Error("failed to register sys client")
				w.sleep(w.cfg.RetrySleep)
				continue
			}
			w.metrics.AgentRegistrationsTotal.WithLabelValues("dlog", "ok").Inc()
		}

		if err := w.step(w.local, routeLocal); err != nil {
			w.log.Error("local upload step failed", zap.Error(err))
		}
		if err := w.step(w.cloud, routeCloud); err != nil {
			w.log.Error("cloud upload step failed", zap.Error(err))
		}

		res := w.client.ProcessEvent(w.cfg.BlobTimeout)
		if res != agent.ResultOK && res != agent.ResultTimedOut {
			w.log.Error("agent event pump failed", zap.Int("result", int(res)))
			if res == agent.ResultShouldExit {
				w.agt.UnregisterSysClient(w.client)
				w.client = nil
			}
			// Rewind both in-flight tails so the next registration
			// cycle restarts them.
			w.local.SetTailStatus(StatusRequest)
			w.cloud.SetTailStatus(StatusRequest)
		}

		w.metrics.UploadListDepth.WithLabelValues(routeLocal).Set(float64(w.local.Len()))
		w.metrics.UploadListDepth.WithLabelValues(routeCloud).Set(float64(w.cloud.Len()))
	}
}

// sleep waits without delaying shutdown.
func (w *Worker) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.stop:
	case <-t.C:
	}
}

// step advances the tail entry of one list by one state transition.
func (w *Worker) step(list *List, route string) error {
	e := list.Tail()
	if e == nil {
		return nil
	}

	switch e.Status {
	case StatusRequest:
		return w.dispatch(list, route, e)

	case StatusUploading:
		// Transfer owned by the agent pump.
		return nil

	case StatusFinished:
		cb, total, user, discarded, ok := list.Finalize()
		if !ok {
			return nil
		}
		outcome := "ok"
		if discarded {
			outcome = "discarded"
		}
		w.metrics.UploadsFinishedTotal.WithLabelValues(route, outcome).Inc()
		if cb != nil {
			cb(total, user)
		}
		return nil

	default:
		list.SetTailStatus(StatusRequest)
		return fmt.Errorf("unexpected upload status %d", e.Status)
	}
}

// dispatch formats the destination and hands the entry to the agent.
func (w *Worker) dispatch(list *List, route string, e *Entry) error {
	value, err := w.store.Get(e.Block)
	if err != nil {
		return err
	}

	filename := blobFilename(e.Timestamp)
	if value.StoragePath != "" {
		filename = value.StoragePath + "/" + filename
	}

	var res agent.Result
	if route == routeLocal {
		url := value.StorageName + "/" + filename
		w.log.Debug("put blob",
			zap.String("url", url), zap.Int("size", e.TotalSize))
		res = w.client.PutBlob(url, nil, uint64(e.TotalSize), w.blobCallback(list, route), e)
	} else {
		w.log.Debug("put blob mstp",
			zap.String("storage_name", value.StorageName),
			zap.String("file_name", filename),
			zap.Int("size", e.TotalSize))
		res = w.client.PutBlobMSTP(value.StorageName, filename, uint64(e.TotalSize), w.blobCallback(list, route), e)
	}
	if res != agent.ResultOK {
		list.SetTailStatus(StatusRequest)
		return fmt.Errorf("%s blob dispatch failed: %d", route, res)
	}
	w.metrics.UploadsStartedTotal.WithLabelValues(route).Inc()
	list.SetTailStatus(StatusUploading)
	return nil
}

// blobCallback builds the per-transfer callback the agent invokes with
// MoreData / Finished / Error. The upload cursor lives on the entry, not
// on the stack, so chunks may arrive across any number of pump passes.
func (w *Worker) blobCallback(list *List, route string) agent.BlobCallback {
	return func(blob *agent.BlobData, reason agent.CallbackReason, user any) agent.Result {
		e, ok := user.(*Entry)
		if !ok || e == nil {
			w.log.Error("blob callback with foreign user data")
			return agent.ResultOK
		}
		if blob == nil || !blobHealthy(blob) {
			w.retry(list, route, e)
			return agent.ResultOK
		}

		switch reason {
		case agent.ReasonMoreData:
			if blob.Buffer == nil || e.Buf == nil {
				list.SetTailStatus(StatusRequest)
				return agent.ResultOK
			}
			n := blob.Len
			if n > len(e.Buf)-e.BytesSent {
				n = len(e.Buf) - e.BytesSent
			}
			copy(blob.Buffer, e.Buf[e.BytesSent:e.BytesSent+n])
			list.Advance(e, n)

		case agent.ReasonFinished:
			w.log.Debug("blob upload finished", zap.String("route", route))
			list.SetTailStatus(StatusFinished)

		case agent.ReasonTimeout:
			// No state change.

		default:
			w.log.Error("blob upload failed", zap.String("route", route))
			w.retry(list, route, e)
		}
		return agent.ResultOK
	}
}

// blobHealthy applies the status rules: transport error or an HTTP
// status outside 2xx (and non-zero) is a failure.
func blobHealthy(blob *agent.BlobData) bool {
	if blob.TransportErr != 0 {
		return false
	}
	if blob.StatusCode != 0 && (blob.StatusCode < 200 || blob.StatusCode >= 300) {
		return false
	}
	return true
}

func (w *Worker) retry(list *List, route string, e *Entry) {
	w.metrics.UploadRetriesTotal.WithLabelValues(route).Inc()
	if list.Retry(e, w.cfg.MaxRetry) {
		w.log.Error("upload failed, retrying",
			zap.String("route", route),
			zap.Int("retry", e.RetryCount),
			zap.Int("max", w.cfg.MaxRetry))
	} else {
		w.log.Error("upload failed after retries, discarding data",
			zap.String("route", route),
			zap.Int("max", w.cfg.MaxRetry))
	}
}

// blobFilename renders the upload filename: YYYYMMDDhhmmssmmm.log, UTC.
func blobFilename(ts time.Time) string {
	utc := ts.UTC()
	return fmt.Sprintf("%s%03d.log", utc.Format("20060102150405"), utc.Nanosecond()/1e6)
}
