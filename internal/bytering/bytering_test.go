package bytering

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNew_RejectsBadSizes(t *testing.T) {
	if _, err := New(nil, Simple); err != ErrHandleCreate {
		t.Fatalf("expected ErrHandleCreate for empty buffer, got %v", err)
	}
	if _, err := New(make([]byte, 30), Simple); err != ErrHandleCreate {
		t.Fatalf("expected ErrHandleCreate for size not multiple of 4, got %v", err)
	}
	if _, err := New(make([]byte, 32), Mode(99)); err != ErrHandleCreate {
		t.Fatalf("expected ErrHandleCreate for bad mode, got %v", err)
	}
}

func TestSimple_PreservesByteOrder(t *testing.T) {
	r, err := New(make([]byte, 32), Simple)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Fin() //nolint:errcheck

	var want []byte
	for _, rec := range [][]byte{
		{1, 2, 3, 4},
		{5, 6, 7, 8, 9, 10},
		{11, 12},
	} {
		if off := r.PushBack(rec); off < 0 {
			t.Fatalf("PushBack(%v) failed", rec)
		}
		want = append(want, rec...)
	}

	if got := r.Bytes()[:len(want)]; !bytes.Equal(got, want) {
		t.Errorf("stored bytes = %v, want %v", got, want)
	}
	if r.Used() != len(want) {
		t.Errorf("Used() = %d, want %d", r.Used(), len(want))
	}
}

func TestSimple_RejectsOverCapacityPush(t *testing.T) {
	r, err := New(make([]byte, 8), Simple)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Fin() //nolint:errcheck

	if off := r.PushBack([]byte{1, 2, 3, 4, 5, 6}); off != 0 {
		t.Fatalf("first push offset = %d, want 0", off)
	}
	if rem := r.Remaining(); rem != 2 {
		t.Fatalf("Remaining() = %d, want 2", rem)
	}
	if off := r.PushBack([]byte{7, 8, 9}); off != -1 {
		t.Fatalf("over-capacity push returned %d, want -1", off)
	}
	// A push that exactly fits the remainder fills the tail; the write
	// cursor then returns to the front.
	if off := r.PushBack([]byte{7, 8}); off != 6 {
		t.Fatalf("fitting push offset = %d, want 6", off)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", r.Remaining())
	}
}

func TestInvariant_RemPlusUsedEqualsCapacity(t *testing.T) {
	r, err := New(make([]byte, 64), Simple)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Fin() //nolint:errcheck

	for i := 0; i < 10; i++ {
		r.PushBack(bytes.Repeat([]byte{byte(i)}, 5))
		if r.Remaining()+r.Used() != r.Capacity() {
			t.Fatalf("rem(%d) + used(%d) != capacity(%d)",
				r.Remaining(), r.Used(), r.Capacity())
		}
	}
}

// Scenario: a 32-byte NoSplit ring holds 28 occupied bytes; a push that
// cannot fit the 4-byte tail burns it with the sentinel and lays the
// record down at offset 0, returning the body offset past the header.
func TestNoSplit_TailSentinelWrap(t *testing.T) {
	r, err := New(make([]byte, 32), NoSplit)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Fin() //nolint:errcheck

	if off := r.PushBack([]byte{0x01, 0x02, 0x03, 0x04}); off != 4 {
		t.Fatalf("push 1 offset = %d, want 4", off)
	}
	rec2 := make([]byte, 16)
	for i := range rec2 {
		rec2[i] = byte(0x05 + i)
	}
	if off := r.PushBack(rec2); off != 12 {
		t.Fatalf("push 2 offset = %d, want 12", off)
	}

	// 28 bytes occupied, 4 bytes of tail left; {A,B,C} needs 8.
	off := r.PushBack([]byte{0x0A, 0x0B, 0x0C})
	if off != 4 {
		t.Fatalf("push 3 offset = %d, want 4 (body at offset 4)", off)
	}
	if got := binary.LittleEndian.Uint32(r.Bytes()[28:]); got != SentinelLength {
		t.Errorf("tail gap = %#x, want sentinel %#x", got, SentinelLength)
	}
	if got := binary.LittleEndian.Uint32(r.Bytes()[0:]); got != 3 {
		t.Errorf("wrapped record header = %d, want 3", got)
	}
	if got := r.Bytes()[4:7]; !bytes.Equal(got, []byte{0x0A, 0x0B, 0x0C}) {
		t.Errorf("wrapped record body = %v", got)
	}
}

func TestNoSplit_HeaderAndPadding(t *testing.T) {
	r, err := New(make([]byte, 64), NoSplit)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Fin() //nolint:errcheck

	r.PushBack([]byte{1, 2, 3})    // occupies 4 + 4
	r.PushBack([]byte{4, 5, 6, 7}) // occupies 4 + 4
	recs := r.Records()
	if len(recs) != 2 {
		t.Fatalf("Records() returned %d records, want 2", len(recs))
	}
	if !bytes.Equal(recs[0], []byte{1, 2, 3}) || !bytes.Equal(recs[1], []byte{4, 5, 6, 7}) {
		t.Errorf("Records() = %v", recs)
	}
	if r.Used() != 16 {
		t.Errorf("Used() = %d, want 16", r.Used())
	}
}

func TestClear_ResetsCursors(t *testing.T) {
	r, err := New(make([]byte, 32), NoSplit)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Fin() //nolint:errcheck

	r.PushBack([]byte{1, 2, 3, 4})
	if err := r.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if r.Used() != 0 || r.Remaining() != 32 {
		t.Errorf("after Clear: used=%d rem=%d", r.Used(), r.Remaining())
	}
}

func TestFin_InvalidatesHandle(t *testing.T) {
	r, err := New(make([]byte, 32), Simple)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Fin(); err != nil {
		t.Fatalf("Fin: %v", err)
	}
	if off := r.PushBack([]byte{1}); off != -1 {
		t.Errorf("PushBack on finalized handle returned %d, want -1", off)
	}
	if err := r.Clear(); err != ErrIllegalHandle {
		t.Errorf("Clear on finalized handle = %v, want ErrIllegalHandle", err)
	}
	if err := r.Fin(); err != ErrIllegalHandle {
		t.Errorf("second Fin = %v, want ErrIllegalHandle", err)
	}
}
