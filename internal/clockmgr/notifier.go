// Package clockmgr supervises the system NTP client daemon and delivers
// time-sync notifications.
//
// Two goroutines cooperate:
//
//	[Monitor] — wakes every polling period, restarts a dead NTP daemon,
//	            samples sync state, posts one SyncComplete per run cycle.
//	[Notifier] — serializes notifications and delivers the caller's
//	             registered sync-complete callback.
//
// Start order follows the newer firmware structure: the daemon is
// started before the monitor goroutine.
package clockmgr

import (
	"sync"

	"go.uber.org/zap"
)

// condType discriminates notifier queue entries.
type condType int

const (
	condNothing condType = iota
	condFinReq
	condSyncComplete
)

// notification is one notifier queue entry.
type notification struct {
	cond    condType
	success bool
}

// notifyQueueDepth bounds the notification queue. Sync-complete posts
// are rare; overflow is logged and dropped.
const notifyQueueDepth = 16

// SyncCompleteCallback receives the NTP sync outcome.
type SyncCompleteCallback func(success bool)

// Notifier drains the notification queue and invokes the registered
// sync-complete callback. On a successful sync it also asks the
// settings store to persist the current parameters, now that timestamps
// are trustworthy.
type Notifier struct {
	mu sync.Mutex
	cb SyncCompleteCallback

	// persist is invoked after a successful sync notification.
	persist func() error

	ch   chan notification
	done chan struct{}
	log  *zap.Logger
}

// NewNotifier creates a notifier. persist may be nil.
func NewNotifier(persist func() error, log *zap.Logger) *Notifier {
	return &Notifier{
		persist: persist,
		ch:      make(chan notification, notifyQueueDepth),
		log:     log,
	}
}

// RegisterCallback installs the sync-complete callback.
func (n *Notifier) RegisterCallback(cb SyncCompleteCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cb = cb
}

// UnregisterCallback removes the sync-complete callback.
func (n *Notifier) UnregisterCallback() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cb = nil
}

// Start launches the notifier goroutine. Start/Stop pairs may repeat
// across clock-manager restarts; callers serialize them.
func (n *Notifier) Start() {
	n.done = make(chan struct{})
	go n.run()
}

// Stop posts the fin request and waits for the goroutine to exit.
func (n *Notifier) Stop() {
	n.post(notification{cond: condFinReq})
	<-n.done
}

// PostSyncComplete enqueues a sync-complete notification.
func (n *Notifier) PostSyncComplete(success bool) {
	n.post(notification{cond: condSyncComplete, success: success})
}

func (n *Notifier) post(msg notification) {
	select {
	case n.ch <- msg:
	default:
		n.log.Error("notification queue full, dropping",
			zap.Int("cond", int(msg.cond)))
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for msg := range n.ch {
		switch msg.cond {
		case condNothing:
			// No-op.

		case condFinReq:
			return

		case condSyncComplete:
			n.mu.Lock()
			cb := n.cb
			n.mu.Unlock()
			if cb != nil {
				cb(msg.success)
			}
			if msg.success && n.persist != nil {
				if err := n.persist(); err != nil {
					n.log.Error("failed to persist parameters after sync",
						zap.Error(err))
				}
			}
		}
	}
}
