// Package dlog implements the high-volume debug-log path: producers push
// raw bytes into a double-buffered set of ring planes, and a worker
// goroutine drains filled planes into the blob upload lists.
//
// Locking discipline: the ring-set lock is acquired before the
// critical-log lock, never the other way around. The worker takes the
// ring-set lock to clear a drained plane but never holds the
// critical-log lock.
package dlog

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/bytering"
	"github.com/edgelogd/edgelogd/internal/msgqueue"
	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/settings"
	"github.com/edgelogd/edgelogd/internal/uploader"
)

// aesBlockSize is reserved per record for the downstream encryption
// stage; the fit estimate keeps one block of headroom plus padding.
const aesBlockSize = 16

// Cmd tags a Notification for the Dlog worker.
type Cmd int

const (
	CmdNone Cmd = iota
	// CmdFin asks the worker to exit.
	CmdFin
	// CmdBufferFull hands a filled ring plane to the worker.
	CmdBufferFull
	// CmdSendBulk hands an already-owned bulk buffer to the worker.
	CmdSendBulk
)

// Notification is the handoff message between the accumulator and the
// Dlog worker.
type Notification struct {
	Cmd        Cmd
	Data       []byte
	DataSize   int
	BufSize    int
	Block      settings.BlockType
	Callback   uploader.CompletionCallback
	UserData   any
	IsCritical bool
}

var (
	// ErrFull is returned when a record cannot fit even a fresh plane.
	ErrFull = errors.New("dlog: record exceeds plane capacity")
)

type bufferStatus int

const (
	statusUse     bufferStatus = iota // only the active plane in use
	statusHalfUse                     // both planes in use
)

// plane is one ring plane plus its bookkeeping.
type plane struct {
	ring     *bytering.Ring
	stored   int
	critical bool
}

// Ingest is the Dlog accumulator: N ring planes with one active writer
// plane and an oldest pointer naming the plane to drain next.
type Ingest struct {
	mu     sync.Mutex // ring-set lock
	planes []plane
	active int
	oldest int
	status bufferStatus
	// tempStored snapshots the filled plane's byte count at rotation,
	// for the handoff message.
	tempStored int

	critMu       sync.Mutex // critical-log lock; acquired after mu
	critPending  bool
	critDeadline time.Time
	critTimeout  time.Duration

	planeSize int
	queue     *msgqueue.Queue[Notification]
	metrics   *observability.Metrics
	log       *zap.Logger
}

// NewIngest creates the ring planes. planes >= 2, planeSize a multiple
// of 4.
func NewIngest(planeSize, planeCount int, critTimeout time.Duration,
	queue *msgqueue.Queue[Notification], metrics *observability.Metrics,
	log *zap.Logger) (*Ingest, error) {

	if planeCount < 2 {
		return nil, bytering.ErrHandleCreate
	}
	in := &Ingest{
		planes:      make([]plane, planeCount),
		planeSize:   planeSize,
		critTimeout: critTimeout,
		queue:       queue,
		metrics:     metrics,
		log:         log,
	}
	for i := range in.planes {
		ring, err := bytering.New(make([]byte, planeSize), bytering.Simple)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = in.planes[j].ring.Fin()
			}
			return nil, err
		}
		in.planes[i].ring = ring
	}
	return in, nil
}

// Close finalizes every ring plane.
func (in *Ingest) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for i := range in.planes {
		if in.planes[i].ring != nil {
			_ = in.planes[i].ring.Fin()
			in.planes[i].ring = nil
		}
	}
}

// fits applies the capacity estimate including encryption headroom:
// used + size + block + (block - (used+size) mod block) < capacity.
func (in *Ingest) fits(used, size int) bool {
	return used+size+aesBlockSize+(aesBlockSize-((used+size)%aesBlockSize)) < in.planeSize
}

// Write appends a record to the active plane, rotating first when the
// record would not fit. A rotation hands the filled plane off to the
// worker. Critical records mark the plane and arm the one-shot upload
// deadline.
func (in *Ingest) Write(data []byte, isCritical bool) error {
	if len(data) == 0 {
		return nil
	}

	in.mu.Lock()
	in.critMu.Lock()

	rotated := false
	p := &in.planes[in.active]
	if in.fits(p.stored, len(data)) {
		if p.ring.PushBack(data) < 0 {
			in.critMu.Unlock()
			in.mu.Unlock()
			in.log.Error("ring push failed",
				zap.Int("active", in.active),
				zap.Int("stored", p.stored),
				zap.Int("size", len(data)))
			return ErrFull
		}
		p.stored += len(data)
	} else {
		rotated = true
		in.rotateLocked("full")
		in.critPending = false

		p = &in.planes[in.active]
		if p.ring.PushBack(data) < 0 {
			in.critMu.Unlock()
			in.mu.Unlock()
			in.log.Error("ring push failed after rotation",
				zap.Int("active", in.active), zap.Int("size", len(data)))
			return ErrFull
		}
		p.stored += len(data)
	}
	in.metrics.DlogBytesTotal.Add(float64(len(data)))

	if isCritical {
		p.critical = true
		if !in.critPending {
			in.critDeadline = time.Now().Add(in.critTimeout)
			in.critPending = true
			in.log.Info("critical log detected, scheduling urgent upload")
		}
	}

	in.critMu.Unlock()
	in.mu.Unlock()

	if rotated {
		in.postBufferFull()
	}
	return nil
}

// rotateLocked makes the active plane the oldest and switches writing to
// the other plane. With both planes already in use, the next plane's
// unflushed contents are cleared — that is the bounded drop mode.
// Callers hold both the ring-set and critical-log locks.
func (in *Ingest) rotateLocked(reason string) {
	in.oldest = in.active
	next := (in.active + 1) % len(in.planes)

	if in.status == statusHalfUse {
		in.tempStored = in.planes[in.active].stored
		in.active = next
		dropped := in.planes[in.active].stored
		if dropped > 0 {
			in.metrics.DlogDroppedTotal.WithLabelValues("both_planes_full").Inc()
			in.log.Warn("both ring planes in use, clearing undrained plane",
				zap.Int("plane", in.active), zap.Int("bytes", dropped))
		}
		_ = in.planes[in.active].ring.Clear()
		in.planes[in.active].stored = 0
		in.planes[in.active].critical = false
	} else {
		in.status = statusHalfUse
		in.tempStored = in.planes[in.active].stored
		in.active = next
	}
	in.metrics.DlogRotationsTotal.WithLabelValues(reason).Inc()
}

// postBufferFull sends the oldest plane's contents to the worker. The
// bytes are copied into a fresh buffer under the ring-set lock: the
// plane's backing memory is cleared and rewritten by later rotations,
// so the handoff must carry its own frozen snapshot.
func (in *Ingest) postBufferFull() {
	in.mu.Lock()
	data := make([]byte, in.planeSize)
	copy(data, in.planes[in.oldest].ring.Bytes()[:in.tempStored])
	msg := Notification{
		Cmd:        CmdBufferFull,
		Data:       data,
		DataSize:   in.tempStored,
		BufSize:    in.planeSize,
		Block:      settings.BlockSysApp,
		IsCritical: in.planes[in.oldest].critical,
	}
	in.mu.Unlock()

	if err := in.queue.Send(msg); err != nil {
		in.metrics.DlogDroppedTotal.WithLabelValues("queue_full").Inc()
		in.log.Error("failed to hand off filled plane", zap.Error(err))
	}
	in.metrics.DlogQueueDepth.Set(float64(in.queue.Len()))
}

// SweepCritical runs the critical-log deadline check. When a pending
// deadline has expired the active plane is rotated and handed off even
// if it is far from full, bounding critical-log latency independent of
// traffic.
func (in *Ingest) SweepCritical() {
	should := false

	in.mu.Lock()
	in.critMu.Lock()
	if in.critPending && !time.Now().Before(in.critDeadline) {
		should = true
		in.rotateLocked("critical_deadline")
		in.critPending = false
	}
	in.critMu.Unlock()
	in.mu.Unlock()

	if should {
		in.log.Info("critical log upload timeout reached, triggering upload")
		in.postBufferFull()
	}
}

// ResetOldest clears the oldest plane and returns it to service. Called
// by the worker after a BufferFull handoff; the handoff message carries
// its own snapshot of the bytes, so only the reset uses the live index.
func (in *Ingest) ResetOldest() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	p := &in.planes[in.oldest]
	if err := p.ring.Clear(); err != nil {
		return err
	}
	in.status = statusUse
	p.stored = 0
	p.critical = false
	return nil
}

// PlaneSize returns the configured plane capacity.
func (in *Ingest) PlaneSize() int { return in.planeSize }

// PlaneCount returns the number of ring planes.
func (in *Ingest) PlaneCount() int { return len(in.planes) }
