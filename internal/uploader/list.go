// Package uploader owns the pending-blob lists and the worker goroutine
// that drives the agent's chunked upload protocol.
//
// Two FIFO lists exist, one per route (local http:// endpoint vs cloud
// multi-storage). Entries are pushed at the head and consumed from the
// tail, strictly oldest first; entries finalize in append order.
// Each list is bounded; a push against a full list drops the new entry
// (discard-newest) and the producer only sees a log line and a counter.
//
// Entries are owned by the list. Finalizing an entry removes it and
// invokes its completion callback exactly once, if it has one.
package uploader

import (
	"sync"
	"time"

	"github.com/edgelogd/edgelogd/internal/settings"
)

// Status is the per-entry upload state.
type Status int

const (
	// StatusRequest marks an entry waiting for the worker to start it.
	StatusRequest Status = iota
	// StatusUploading marks an entry the agent is transferring.
	StatusUploading
	// StatusFinished marks an entry ready to be unlinked.
	StatusFinished
)

// CompletionCallback is invoked once when an entry is finalized. It
// receives the entry's total size and the caller-supplied user data.
type CompletionCallback func(totalSize int, userData any)

// Entry is one pending blob upload.
type Entry struct {
	Buf        []byte
	TotalSize  int
	BytesSent  int
	Block      settings.BlockType
	Callback   CompletionCallback
	UserData   any
	Status     Status
	Timestamp  time.Time
	RetryCount int
	IsCritical bool

	// discarded marks retry-exhausted entries for the outcome metric.
	discarded bool
}

// List is one bounded upload FIFO.
type List struct {
	mu      sync.Mutex
	entries []*Entry // index 0 is the newest (head); last is the oldest (tail)
	max     int
}

// NewList creates a list bounded to max entries.
func NewList(max int) *List {
	if max < 1 {
		max = 1
	}
	return &List{max: max}
}

// Push inserts a new entry at the head. Returns false when the list is
// full; the entry is dropped and its buffer released.
func (l *List) Push(e *Entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.max {
		return false
	}
	e.Status = StatusRequest
	e.BytesSent = 0
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	l.entries = append([]*Entry{e}, l.entries...)
	return true
}

// Len returns the number of pending entries.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Tail returns the entry the worker should act on next: the oldest
// pending entry. Entries are always consumed and finalized in append
// order; the IsCritical flag travels with the entry but never reorders
// the list. Returns nil when the list is empty. The pointer stays owned
// by the list; mutate it only through the list's methods.
func (l *List) Tail() *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tailLocked()
}

func (l *List) tailLocked() *Entry {
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[len(l.entries)-1]
}

// SetTailStatus updates the current tail entry's status. Transitioning
// back to StatusRequest rewinds the transfer cursor.
func (l *List) SetTailStatus(st Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.tailLocked()
	if e == nil {
		return
	}
	e.Status = st
	if st == StatusRequest {
		e.BytesSent = 0
	}
}

// Advance copies upload progress into the entry under the list lock.
func (l *List) Advance(e *Entry, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.BytesSent += n
}

// Retry records a failed transfer attempt for the entry. Below the cap
// the entry returns to StatusRequest; at the cap it is forced to
// StatusFinished with its data marked discarded. Reports whether the
// entry will be retried.
func (l *List) Retry(e *Entry, maxRetry int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.RetryCount++
	if e.RetryCount < maxRetry {
		e.Status = StatusRequest
		e.BytesSent = 0
		return true
	}
	e.Status = StatusFinished
	e.discarded = true
	return false
}

// Finalize unlinks the current tail entry and returns its completion
// callback context. The caller invokes the callback outside the lock.
// The discarded result reports whether the entry's data was discarded
// (retry exhaustion) rather than delivered.
func (l *List) Finalize() (cb CompletionCallback, totalSize int, userData any, discarded bool, ok bool) {
	l.mu.Lock()
	e := l.tailLocked()
	if e == nil {
		l.mu.Unlock()
		return nil, 0, nil, false, false
	}
	l.entries = l.entries[:len(l.entries)-1]
	cb, totalSize, userData, discarded = e.Callback, e.TotalSize, e.UserData, e.discarded
	e.Buf = nil
	l.mu.Unlock()
	return cb, totalSize, userData, discarded, true
}

// Clear drops every entry without invoking callbacks. Used at Deinit.
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		e.Buf = nil
	}
	l.entries = nil
}
