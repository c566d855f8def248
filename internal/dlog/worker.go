package dlog

import (
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/msgqueue"
	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/settings"
	"github.com/edgelogd/edgelogd/internal/uploader"
)

// Encryptor is the detail-log encryption collaborator. Encrypt works in
// place over data[:dataLen] inside a buffer of bufLen bytes and returns
// the encrypted length. A nil Encryptor disables encryption.
type Encryptor interface {
	Encrypt(data []byte, dataLen, bufLen int) (int, error)
}

// Worker drains the Dlog handoff queue: it resets the drained plane of
// each BufferFull handoff (whose bytes were already copied out at
// rotation), decides the upload route from the block's storage name,
// optionally encrypts, and enqueues the result on the matching upload
// list.
type Worker struct {
	ingest     *Ingest
	queue      *msgqueue.Queue[Notification]
	local      *uploader.List
	cloud      *uploader.List
	store      *settings.Store
	enc        Encryptor
	msgTimeout time.Duration
	metrics    *observability.Metrics
	log        *zap.Logger

	done chan struct{}
}

// NewWorker wires the Dlog worker. enc may be nil.
func NewWorker(ingest *Ingest, queue *msgqueue.Queue[Notification],
	local, cloud *uploader.List, store *settings.Store, enc Encryptor,
	msgTimeout time.Duration, metrics *observability.Metrics, log *zap.Logger) *Worker {
	if msgTimeout <= 0 {
		msgTimeout = time.Second
	}
	return &Worker{
		ingest:     ingest,
		queue:      queue,
		local:      local,
		cloud:      cloud,
		store:      store,
		enc:        enc,
		msgTimeout: msgTimeout,
		metrics:    metrics,
		log:        log,
		done:       make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Fin asks the loop to exit and waits for it.
func (w *Worker) Fin() {
	if err := w.queue.ForceSend(Notification{Cmd: CmdFin}); err != nil {
		// Hard-stop path: close the queue so the blocking receive fails.
		w.log.Error("failed to send fin to dlog worker", zap.Error(err))
		w.queue.Close()
	}
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		msg, err := w.queue.Recv(w.msgTimeout)
		if err != nil {
			if err == msgqueue.ErrTimedOut {
				w.ingest.SweepCritical()
				continue
			}
			// Queue closed: forced teardown.
			return
		}
		w.metrics.DlogQueueDepth.Set(float64(w.queue.Len()))

		switch msg.Cmd {
		case CmdFin:
			w.log.Debug("dlog worker fin")
			return

		case CmdBufferFull, CmdSendBulk:
			w.service(msg)

		default:
			w.log.Error("invalid dlog worker command", zap.Int("cmd", int(msg.Cmd)))
		}
	}
}

// service turns one handoff message into an upload list entry. Both
// commands own their buffer: bulk buffers are copied at submission, and
// BufferFull messages carry the snapshot frozen at rotation time, so a
// later rotation rewriting the plane cannot corrupt an undrained
// handoff. The live oldest index is touched only to reset the plane.
func (w *Worker) service(msg Notification) {
	data := msg.Data
	if len(data) == 0 || msg.DataSize <= 0 || msg.BufSize < msg.DataSize {
		w.log.Error("malformed dlog handoff",
			zap.Int("data_size", msg.DataSize), zap.Int("buf_size", msg.BufSize))
		return
	}
	if msg.Cmd == CmdBufferFull {
		if err := w.ingest.ResetOldest(); err != nil {
			w.log.Error("failed to reset drained plane", zap.Error(err))
			return
		}
	}

	value, err := w.store.Get(msg.Block)
	if err != nil {
		w.log.Error("failed to read block settings", zap.Error(err))
		return
	}
	localUpload := settings.IsLocalUpload(value.StorageName)

	uploadSize := msg.DataSize
	if w.judgeEncrypt(msg.Block, localUpload) {
		uploadSize, err = w.enc.Encrypt(data, msg.DataSize, msg.BufSize)
		if err != nil {
			w.log.Error("detail log encryption failed", zap.Error(err))
			return
		}
	}

	entry := &uploader.Entry{
		Buf:        data[:uploadSize],
		TotalSize:  uploadSize,
		Block:      msg.Block,
		Callback:   msg.Callback,
		UserData:   msg.UserData,
		IsCritical: msg.IsCritical,
		Timestamp:  time.Now(),
	}

	list, route := w.cloud, "cloud"
	if localUpload {
		list, route = w.local, "local"
	}
	if !list.Push(entry) {
		w.metrics.DlogDroppedTotal.WithLabelValues("list_full").Inc()
		w.log.Debug("upload list full, discarding plane",
			zap.String("route", route),
			zap.Int("size", uploadSize))
	}
}

// judgeEncrypt: cloud uploads are encrypted except for the Vicapp block;
// local uploads never are.
func (w *Worker) judgeEncrypt(block settings.BlockType, localUpload bool) bool {
	if w.enc == nil {
		return false
	}
	if block == settings.BlockVicapp {
		return false
	}
	if localUpload {
		return false
	}
	return true
}
