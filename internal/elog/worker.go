// Package elog implements the low-volume event-log path: records are
// serialized to JSON telemetry messages and published on the "event_log"
// topic through the agent. While the agent is disconnected, messages are
// parked in a small in-memory spill and resent one at a time after the
// connection returns.
package elog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/agent"
	"github.com/edgelogd/edgelogd/internal/msgqueue"
	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/settings"
)

// Topic is the telemetry topic event-log messages publish on.
const Topic = "event_log"

// QueueReserve is the number of queue slots held back for lifecycle
// commands so that register/wait/destroy can always be enqueued.
const QueueReserve = 3

// Cmd tags an Envelope for the Elog worker.
type Cmd int

const (
	CmdNone Cmd = iota
	// CmdSend publishes a fresh message.
	CmdSend
	// CmdResend publishes a message recovered from the spill.
	CmdResend
	// CmdWait polls the agent connection state.
	CmdWait
	// CmdRegister (re-)registers the sys client.
	CmdRegister
	// CmdDestroy asks the worker to exit.
	CmdDestroy
)

// Envelope is the Elog queue message.
type Envelope struct {
	Cmd     Cmd
	Message string
}

// Message is one event-log record as accepted from producers.
type Message struct {
	Level       settings.Level
	Timestamp   string
	ComponentID int
	EventID     int
}

// wireMessage is the JSON body published to the agent.
type wireMessage struct {
	Serial      string `json:"serial"`
	Level       int    `json:"level"`
	Timestamp   string `json:"timestamp"`
	ComponentID int    `json:"component_id"`
	EventID     int    `json:"event_id"`
}

// Worker is the Elog event loop plus its bounded spill.
type Worker struct {
	agt     agent.Agent
	client  agent.SysClient
	queue   *msgqueue.Queue[Envelope]
	store   *settings.Store
	serial  string
	metrics *observability.Metrics
	log     *zap.Logger

	spillMu  sync.Mutex
	spill    []string
	spillMax int

	done chan struct{}
}

// NewWorker wires the Elog worker. serial is the device serial obtained
// once from the system-info collaborator; empty when unavailable.
func NewWorker(agt agent.Agent, queue *msgqueue.Queue[Envelope],
	store *settings.Store, serial string, spillMax int,
	metrics *observability.Metrics, log *zap.Logger) *Worker {
	if spillMax < 1 {
		spillMax = 5
	}
	return &Worker{
		agt:      agt,
		queue:    queue,
		store:    store,
		serial:   serial,
		spillMax: spillMax,
		metrics:  metrics,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine and posts the initial register
// command.
func (w *Worker) Start() {
	go w.run()
	if err := w.queue.ForceSend(Envelope{Cmd: CmdRegister}); err != nil {
		w.log.Error("failed to post initial register", zap.Error(err))
	}
}

// Destroy asks the loop to exit, waits for it, and releases all spilled
// messages.
func (w *Worker) Destroy() {
	if err := w.queue.ForceSend(Envelope{Cmd: CmdDestroy}); err != nil {
		w.log.Error("failed to send destroy to elog worker", zap.Error(err))
		w.queue.Close()
	}
	<-w.done
	w.clearSpill()
	// Reclaim anything still queued.
	w.queue.Drain()
}

// Send gates, serializes and enqueues one event-log record. Records more
// verbose than the SysApp block's elog level are dropped silently with
// success.
func (w *Worker) Send(msg Message) error {
	value, err := w.store.Get(settings.BlockSysApp)
	if err != nil {
		return err
	}
	if msg.Level > value.ElogLevel {
		w.metrics.ElogDroppedTotal.WithLabelValues("level_gate").Inc()
		return nil
	}

	body, err := w.serialize(msg)
	if err != nil {
		return fmt.Errorf("serialize elog: %w", err)
	}

	if err := w.queue.Send(Envelope{Cmd: CmdSend, Message: body}); err != nil {
		w.metrics.ElogDroppedTotal.WithLabelValues("queue_full").Inc()
		w.log.Warn("elog message queue is full")
		return err
	}
	return nil
}

// serialize renders the deterministic JSON wire form.
func (w *Worker) serialize(msg Message) (string, error) {
	body, err := json.Marshal(wireMessage{
		Serial:      w.serial,
		Level:       int(msg.Level),
		Timestamp:   msg.Timestamp,
		ComponentID: msg.ComponentID,
		EventID:     msg.EventID,
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (w *Worker) run() {
	defer close(w.done)
	registerRequested := false

	for {
		env, err := w.queue.Recv(msgqueue.Forever)
		if err != nil {
			return
		}

		switch env.Cmd {
		case CmdRegister:
			if w.client == nil {
				w.client = w.agt.RegisterSysClient()
				if w.client == nil {
					w.metrics.AgentRegistrationsTotal.WithLabelValues("elog", "failed").Inc()
					time.Sleep(time.Second)
					w.forceSend(Envelope{Cmd: CmdRegister})
				} else {
					w.metrics.AgentRegistrationsTotal.WithLabelValues("elog", "ok").Inc()
					w.log.Info("waiting for hub connection")
					w.forceSend(Envelope{Cmd: CmdWait})
				}
			}

		case CmdWait:
			if w.agt.Status() != agent.StatusConnected {
				time.Sleep(time.Second)
				w.forceSend(Envelope{Cmd: CmdWait})
			} else {
				registerRequested = false
				if msg, ok := w.loadSpill(); ok {
					w.forceSend(Envelope{Cmd: CmdResend, Message: msg})
				}
			}

		case CmdSend, CmdResend:
			if w.client != nil && w.agt.Status() == agent.StatusConnected {
				res := w.client.SendTelemetry(Topic, env.Message, w.telemetryCallback, env.Message)
				if res != agent.ResultOK {
					w.log.Error("failed to send telemetry", zap.Int("result", int(res)))
				}
				if res := w.client.ProcessEvent(-1); res != agent.ResultOK {
					w.log.Error("agent event pump failed", zap.Int("result", int(res)))
				}
			} else {
				w.saveSpill(env.Message)
				if !registerRequested {
					w.forceSend(Envelope{Cmd: CmdRegister})
					registerRequested = true
				}
			}

		case CmdDestroy:
			w.log.Debug("elog worker destroy")
			if w.client != nil {
				w.agt.UnregisterSysClient(w.client)
				w.client = nil
			}
			return
		}
	}
}

func (w *Worker) forceSend(env Envelope) {
	if err := w.queue.ForceSend(env); err != nil {
		w.log.Error("failed to send command to elog worker",
			zap.Int("cmd", int(env.Cmd)), zap.Error(err))
	}
}

// telemetryCallback handles the per-message agent outcome. On success
// the next spilled message, if any, is scheduled for resend; on error
// the message returns to the spill.
func (w *Worker) telemetryCallback(reason agent.CallbackReason, user any) {
	msg, _ := user.(string)
	switch reason {
	case agent.ReasonFinished:
		w.metrics.ElogSentTotal.Inc()
		if next, ok := w.loadSpill(); ok {
			if err := w.queue.Send(Envelope{Cmd: CmdResend, Message: next}); err != nil {
				// Could not schedule; put it back.
				w.saveSpill(next)
			}
		}
	case agent.ReasonError:
		w.log.Error("send telemetry failed")
		if msg != "" {
			w.saveSpill(msg)
		}
	default:
		w.log.Error("unexpected telemetry callback", zap.Int("reason", int(reason)))
	}
}

// saveSpill parks a message, dropping the oldest when the spill is full.
func (w *Worker) saveSpill(msg string) {
	w.spillMu.Lock()
	defer w.spillMu.Unlock()
	if len(w.spill) >= w.spillMax {
		w.spill = w.spill[1:]
		w.metrics.ElogDroppedTotal.WithLabelValues("spill_full").Inc()
	}
	w.spill = append(w.spill, msg)
	w.metrics.ElogSpilledTotal.Inc()
	w.metrics.ElogSpillDepth.Set(float64(len(w.spill)))
}

// loadSpill pops the oldest spilled message.
func (w *Worker) loadSpill() (string, bool) {
	w.spillMu.Lock()
	defer w.spillMu.Unlock()
	if len(w.spill) == 0 {
		return "", false
	}
	msg := w.spill[0]
	w.spill = w.spill[1:]
	w.metrics.ElogSpillDepth.Set(float64(len(w.spill)))
	return msg, true
}

func (w *Worker) clearSpill() {
	w.spillMu.Lock()
	defer w.spillMu.Unlock()
	w.spill = nil
	w.metrics.ElogSpillDepth.Set(0)
}

// SpillLen reports the spill occupancy.
func (w *Worker) SpillLen() int {
	w.spillMu.Lock()
	defer w.spillMu.Unlock()
	return len(w.spill)
}
