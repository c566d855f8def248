// Package agent defines the subsystem's contract with the device's agent
// runtime — the external component that owns all network I/O for blob
// uploads and event-log telemetry.
//
// The agent drives blob uploads through a chunked callback protocol: the
// uploader hands it a total length and a callback, and the agent calls
// back repeatedly with MoreData buffers to fill, then once with Finished
// or Error. Telemetry sends complete with a single Finished/Error
// callback. Both are pumped by ProcessEvent.
package agent

import "time"

// Result is the agent operation result.
type Result int

const (
	ResultOK Result = iota
	ResultTimedOut
	ResultShouldExit
	ResultError
)

// CallbackReason identifies why the agent invoked a callback.
type CallbackReason int

const (
	// ReasonMoreData asks the callback to fill the provided buffer.
	ReasonMoreData CallbackReason = iota
	// ReasonFinished reports successful completion.
	ReasonFinished
	// ReasonTimeout reports an idle pump pass; no state change.
	ReasonTimeout
	// ReasonError reports a failed operation.
	ReasonError
)

// ConnStatus is the agent's hub connection state.
type ConnStatus int

const (
	StatusDisconnected ConnStatus = iota
	StatusConnected
)

// BlobData carries the per-callback blob transfer state. Buffer is the
// agent-owned chunk the callback fills on ReasonMoreData. StatusCode and
// TransportErr describe the terminal outcome; a status outside 2xx (and
// non-zero) or a non-zero transport error is treated as failure by the
// uploader.
type BlobData struct {
	Buffer       []byte
	Len          int
	StatusCode   int
	TransportErr int
}

// HTTPHeader is one header pair for local http:// blob uploads.
type HTTPHeader struct {
	Key   string
	Value string
}

// BlobCallback is invoked repeatedly during a blob upload.
type BlobCallback func(blob *BlobData, reason CallbackReason, user any) Result

// TelemetryCallback is invoked once per telemetry send.
type TelemetryCallback func(reason CallbackReason, user any)

// SysClient is one registered client of the agent runtime. Each worker
// that talks to the agent owns its own client.
type SysClient interface {
	// PutBlob starts a chunked upload to an http:// endpoint.
	PutBlob(url string, headers []HTTPHeader, totalLen uint64, cb BlobCallback, user any) Result

	// PutBlobMSTP starts a chunked upload to cloud multi-storage;
	// storage name and filename travel as separate arguments.
	PutBlobMSTP(storageName, filename string, totalLen uint64, cb BlobCallback, user any) Result

	// SendTelemetry publishes body on the given topic.
	SendTelemetry(topic, body string, cb TelemetryCallback, user any) Result

	// ProcessEvent drives one pass of the agent event pump. timeout < 0
	// blocks until work completes.
	ProcessEvent(timeout time.Duration) Result
}

// Agent is the agent runtime boundary.
type Agent interface {
	// RegisterSysClient creates a client, or returns nil when the agent
	// is unavailable.
	RegisterSysClient() SysClient

	// UnregisterSysClient releases a client.
	UnregisterSysClient(c SysClient)

	// Status reports the hub connection state.
	Status() ConnStatus
}
