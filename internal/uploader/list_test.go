package uploader

import (
	"testing"

	"github.com/edgelogd/edgelogd/internal/settings"
)

func TestPush_DropNewestWhenFull(t *testing.T) {
	l := NewList(2)
	if !l.Push(&Entry{Buf: []byte("a"), TotalSize: 1}) {
		t.Fatal("push 1 rejected")
	}
	if !l.Push(&Entry{Buf: []byte("b"), TotalSize: 1}) {
		t.Fatal("push 2 rejected")
	}
	if l.Push(&Entry{Buf: []byte("c"), TotalSize: 1}) {
		t.Fatal("push over cap accepted")
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
}

func TestTail_OldestFirst(t *testing.T) {
	l := NewList(4)
	a := &Entry{Buf: []byte("a"), TotalSize: 1}
	b := &Entry{Buf: []byte("b"), TotalSize: 1}
	l.Push(a)
	l.Push(b)
	if got := l.Tail(); got != a {
		t.Fatalf("Tail = %v, want the oldest entry", got)
	}
}

// A critical entry pushed after a plain one does not jump the queue:
// consumption and finalization stay in append order.
func TestTail_CriticalDoesNotReorder(t *testing.T) {
	l := NewList(4)
	plain := &Entry{Buf: []byte("p"), TotalSize: 1}
	crit := &Entry{Buf: []byte("c"), TotalSize: 1, IsCritical: true}
	l.Push(plain)
	l.Push(crit)
	if got := l.Tail(); got != plain {
		t.Fatal("the oldest entry drains first regardless of criticality")
	}
}

func TestFinalize_MixedCriticalKeepsAppendOrder(t *testing.T) {
	l := NewList(4)
	var order []int
	mk := func(id int, critical bool) *Entry {
		return &Entry{
			Buf:        []byte{byte(id)},
			TotalSize:  1,
			IsCritical: critical,
			Callback:   func(_ int, user any) { order = append(order, user.(int)) },
			UserData:   id,
		}
	}
	l.Push(mk(1, false))
	l.Push(mk(2, true))
	l.Push(mk(3, false))
	l.Push(mk(4, true))

	for i := 0; i < 4; i++ {
		l.SetTailStatus(StatusFinished)
		cb, total, user, _, ok := l.Finalize()
		if !ok {
			t.Fatal("Finalize on non-empty list failed")
		}
		cb(total, user)
	}

	for i, want := range []int{1, 2, 3, 4} {
		if order[i] != want {
			t.Fatalf("finalize order = %v, want [1 2 3 4]", order)
		}
	}
}

func TestFinalize_FIFOOrderAndCallbackOnce(t *testing.T) {
	l := NewList(4)
	var order []int
	mk := func(id, size int) *Entry {
		return &Entry{
			Buf:       make([]byte, size),
			TotalSize: size,
			Callback: func(total int, user any) {
				order = append(order, user.(int))
				if total != size {
					t.Errorf("callback total = %d, want %d", total, size)
				}
			},
			UserData: id,
		}
	}
	l.Push(mk(1, 10))
	l.Push(mk(2, 20))
	l.Push(mk(3, 30))

	for i := 0; i < 3; i++ {
		l.SetTailStatus(StatusFinished)
		cb, total, user, _, ok := l.Finalize()
		if !ok {
			t.Fatal("Finalize on non-empty list failed")
		}
		cb(total, user)
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("finalize order = %v, want [1 2 3]", order)
	}
	if _, _, _, _, ok := l.Finalize(); ok {
		t.Fatal("Finalize on empty list succeeded")
	}
}

func TestRetry_MonotonicCountAndCap(t *testing.T) {
	l := NewList(2)
	e := &Entry{Buf: []byte("x"), TotalSize: 1, Block: settings.BlockSysApp}
	l.Push(e)

	const maxRetry = 3
	for want := 1; want < maxRetry; want++ {
		if !l.Retry(e, maxRetry) {
			t.Fatalf("retry %d reported exhaustion early", want)
		}
		if e.RetryCount != want {
			t.Fatalf("RetryCount = %d, want %d", e.RetryCount, want)
		}
		if e.Status != StatusRequest {
			t.Fatalf("status after retry = %d, want StatusRequest", e.Status)
		}
	}
	if l.Retry(e, maxRetry) {
		t.Fatal("retry at cap should exhaust")
	}
	if e.Status != StatusFinished {
		t.Fatalf("status after exhaustion = %d, want StatusFinished", e.Status)
	}

	_, _, _, discarded, ok := l.Finalize()
	if !ok || !discarded {
		t.Fatalf("Finalize = (discarded=%v, ok=%v), want discarded entry", discarded, ok)
	}
}

func TestSetTailStatus_RequestRewindsCursor(t *testing.T) {
	l := NewList(2)
	e := &Entry{Buf: make([]byte, 8), TotalSize: 8}
	l.Push(e)
	l.Advance(e, 5)
	l.SetTailStatus(StatusRequest)
	if e.BytesSent != 0 {
		t.Fatalf("BytesSent after rewind = %d, want 0", e.BytesSent)
	}
}

func TestClear(t *testing.T) {
	l := NewList(4)
	l.Push(&Entry{Buf: []byte("a"), TotalSize: 1})
	l.Push(&Entry{Buf: []byte("b"), TotalSize: 1})
	l.Clear()
	if l.Len() != 0 {
		t.Fatalf("Len after Clear = %d", l.Len())
	}
}
