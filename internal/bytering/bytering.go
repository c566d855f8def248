// Package bytering implements the fixed-capacity byte rings that back the
// Dlog accumulator.
//
// Two ring flavours exist:
//
//	Simple  — raw byte stream; a push that wraps past the end is copied in
//	          two parts.
//	NoSplit — every record is prefixed with a 4-byte length header and is
//	          never split across the end of the buffer. If a record plus
//	          header would cross the end, the unusable tail gap is filled
//	          with the sentinel length 0xFFFFFFFF and the record is laid
//	          down at offset 0.
//
// Invariant: remaining + used == capacity at all times under the ring's
// own lock. PushBack never suspends the caller. In Simple mode, and for a
// NoSplit record that fits before the end, it reports failure immediately
// when capacity would be exceeded. A NoSplit record that would cross the
// end is always laid down at offset 0, overwriting earlier records at the
// front; remaining capacity then floors at 0.
//
// A process-wide active-handle table guards against operations on a ring
// after Fin (use-after-free in the original firmware sense).
package bytering

import (
	"encoding/binary"
	"errors"
	"sync"
)

// Mode selects the ring flavour.
type Mode int

const (
	// Simple is a plain byte ring; records may wrap.
	Simple Mode = iota
	// NoSplit prefixes records with a length header and never wraps them.
	NoSplit
)

const (
	headerSize = 4
	// SentinelLength marks an unusable tail gap in NoSplit mode.
	SentinelLength uint32 = 0xFFFFFFFF
)

var (
	// ErrHandleCreate is returned when a ring cannot be constructed.
	ErrHandleCreate = errors.New("bytering: handle create")
	// ErrIllegalHandle is returned for operations on a finalized ring.
	ErrIllegalHandle = errors.New("bytering: illegal handle")
)

// Ring is a fixed-capacity byte ring buffer.
type Ring struct {
	mu     sync.Mutex
	body   []byte
	wp     int
	rp     int
	rem    int
	lastWP int
	mode   Mode
}

// Active-handle table. Finalized rings are removed so that late callers
// fail with ErrIllegalHandle instead of touching a dead buffer.
var (
	activeMu sync.Mutex
	active   = make(map[*Ring]struct{})
)

func isActive(r *Ring) bool {
	activeMu.Lock()
	defer activeMu.Unlock()
	_, ok := active[r]
	return ok
}

// rup4 rounds val up to the next multiple of 4.
func rup4(val int) int { return (val + 3) &^ 3 }

// New creates a ring over buf. len(buf) must be a non-zero multiple of 4.
func New(buf []byte, mode Mode) (*Ring, error) {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil, ErrHandleCreate
	}
	if mode != Simple && mode != NoSplit {
		return nil, ErrHandleCreate
	}
	r := &Ring{body: buf, rem: len(buf), mode: mode}
	activeMu.Lock()
	active[r] = struct{}{}
	activeMu.Unlock()
	return r, nil
}

// PushBack copies data into the ring. It returns the offset of the record
// body inside the backing buffer, or -1 when the ring is out of capacity
// or the handle is no longer active. In NoSplit mode the offset points
// past the length header, and a record that would cross the end of the
// buffer is written at offset 0 without a capacity check (only a record
// larger than the whole buffer is refused).
func (r *Ring) PushBack(data []byte) int {
	if r == nil || !isActive(r) {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.mode {
	case Simple:
		return r.pushSimple(data)
	case NoSplit:
		return r.pushNoSplit(data)
	}
	return -1
}

func (r *Ring) pushSimple(data []byte) int {
	n := len(data)
	if n > r.rem {
		return -1
	}
	ret := r.wp
	if r.wp+n <= len(r.body) {
		copy(r.body[r.wp:], data)
		r.wp = (r.wp + n) % len(r.body)
	} else {
		tail := len(r.body) - r.wp
		copy(r.body[r.wp:], data[:tail])
		copy(r.body[0:], data[tail:])
		r.wp = n - tail
	}
	r.rem -= n
	return ret
}

func (r *Ring) pushNoSplit(data []byte) int {
	n := len(data)
	occupy := headerSize + rup4(n)
	if occupy > len(r.body) {
		return -1
	}
	if r.wp+occupy <= len(r.body) {
		if occupy > r.rem {
			return -1
		}
		binary.LittleEndian.PutUint32(r.body[r.wp:], uint32(n))
		copy(r.body[r.wp+headerSize:], data)
		ret := r.wp + headerSize
		r.lastWP = r.wp
		r.wp = (r.wp + occupy) % len(r.body)
		r.rem -= occupy
		return ret
	}
	// The record would cross the end. Burn the tail gap with the
	// sentinel and restart at offset 0. Content at the front of the
	// buffer is overwritten; records wrapped over become invalid.
	tailDead := len(r.body) - r.wp
	if tailDead >= headerSize {
		binary.LittleEndian.PutUint32(r.body[r.wp:], SentinelLength)
	}
	binary.LittleEndian.PutUint32(r.body[0:], uint32(n))
	copy(r.body[headerSize:], data)
	r.lastWP = 0
	r.wp = occupy
	r.rem -= occupy + tailDead
	if r.rem < 0 {
		r.rem = 0
	}
	return headerSize
}

// Clear resets the ring. All stored records become invalid.
func (r *Ring) Clear() error {
	if r == nil || !isActive(r) {
		return ErrIllegalHandle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wp = 0
	r.rp = 0
	r.lastWP = 0
	r.rem = len(r.body)
	return nil
}

// Fin removes the ring from the active-handle table. Subsequent
// operations fail with ErrIllegalHandle.
func (r *Ring) Fin() error {
	if r == nil {
		return ErrIllegalHandle
	}
	activeMu.Lock()
	defer activeMu.Unlock()
	if _, ok := active[r]; !ok {
		return ErrIllegalHandle
	}
	delete(active, r)
	return nil
}

// Bytes returns the backing buffer. Callers drain the used region through
// this view while holding whatever higher-level lock owns the ring set.
func (r *Ring) Bytes() []byte { return r.body }

// Capacity returns the fixed ring capacity.
func (r *Ring) Capacity() int { return len(r.body) }

// Remaining returns the free capacity in bytes.
func (r *Ring) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rem
}

// Used returns the occupied capacity in bytes, including headers and any
// sentinel-consumed tail gap in NoSplit mode.
func (r *Ring) Used() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.body) - r.rem
}

// Records walks a NoSplit ring from offset 0 and returns the stored
// record bodies in push order. Only meaningful on a ring that has not
// wrapped more than once since the last Clear; used by drain paths and
// tests to recover the logical record sequence.
func (r *Ring) Records() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != NoSplit {
		return nil
	}
	var out [][]byte
	off := 0
	consumed := 0
	used := len(r.body) - r.rem
	for consumed < used {
		if off+headerSize > len(r.body) {
			break
		}
		hdr := binary.LittleEndian.Uint32(r.body[off:])
		if hdr == SentinelLength {
			consumed += len(r.body) - off
			off = 0
			continue
		}
		n := int(hdr)
		if n < 0 || off+headerSize+n > len(r.body) {
			break
		}
		rec := make([]byte, n)
		copy(rec, r.body[off+headerSize:off+headerSize+n])
		out = append(out, rec)
		step := headerSize + rup4(n)
		consumed += step
		off = (off + step) % len(r.body)
	}
	return out
}
