package agent

import (
	"bytes"
	"net/http"
	"sync"
	"time"
)

// DefaultChunkSize is the blob transfer chunk the simulated agent offers
// per MoreData callback.
const DefaultChunkSize = 2048

// Sim is an in-process Agent implementation used by the simulation
// binary and the test suites. It drives the real chunked callback
// protocol against in-memory storage, can inject per-operation failures,
// and can optionally forward http:// blob uploads to a live endpoint.
type Sim struct {
	mu sync.Mutex

	connected    bool
	registerFail int // fail the next N registrations
	blobFail     int // fail the next N blob uploads
	telemetryErr int // fail the next N telemetry sends
	chunkSize    int

	// ForwardHTTP enables real http PUT delivery of local blob uploads.
	ForwardHTTP bool

	clients map[*SimClient]struct{}

	// Completed transfers, for inspection.
	Blobs      []SimBlob
	Telemetry  []SimTelemetry
	httpClient *http.Client
}

// SimBlob is one finished blob upload.
type SimBlob struct {
	URL         string // local route
	StorageName string // cloud route
	Filename    string // cloud route
	Body        []byte
}

// SimTelemetry is one delivered telemetry message.
type SimTelemetry struct {
	Topic string
	Body  string
}

// NewSim creates a connected simulator with the default chunk size.
func NewSim() *Sim {
	return &Sim{
		connected:  true,
		chunkSize:  DefaultChunkSize,
		clients:    make(map[*SimClient]struct{}),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetConnected flips the simulated hub connection state.
func (s *Sim) SetConnected(up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = up
}

// SetChunkSize overrides the MoreData chunk size.
func (s *Sim) SetChunkSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.chunkSize = n
	}
}

// FailNextRegistrations makes the next n RegisterSysClient calls fail.
func (s *Sim) FailNextRegistrations(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerFail = n
}

// FailNextBlobs makes the next n blob uploads end with ReasonError.
func (s *Sim) FailNextBlobs(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobFail = n
}

// FailNextTelemetry makes the next n telemetry sends end with ReasonError.
func (s *Sim) FailNextTelemetry(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetryErr = n
}

// SnapshotBlobs returns a copy of the finished blob uploads.
func (s *Sim) SnapshotBlobs() []SimBlob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimBlob, len(s.Blobs))
	copy(out, s.Blobs)
	return out
}

// SnapshotTelemetry returns a copy of the delivered telemetry messages.
func (s *Sim) SnapshotTelemetry() []SimTelemetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimTelemetry, len(s.Telemetry))
	copy(out, s.Telemetry)
	return out
}

// RegisterSysClient implements Agent.
func (s *Sim) RegisterSysClient() SysClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registerFail > 0 {
		s.registerFail--
		return nil
	}
	c := &SimClient{sim: s}
	s.clients[c] = struct{}{}
	return c
}

// UnregisterSysClient implements Agent.
func (s *Sim) UnregisterSysClient(c SysClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := c.(*SimClient); ok {
		delete(s.clients, sc)
	}
}

// Status implements Agent.
func (s *Sim) Status() ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return StatusConnected
	}
	return StatusDisconnected
}

// SimClient is one registered client of the simulator.
type SimClient struct {
	sim *Sim

	mu      sync.Mutex
	pending []func() // operations drained by ProcessEvent
}

type simBlobOp struct {
	url         string
	storageName string
	filename    string
	totalLen    uint64
	cb          BlobCallback
	user        any
}

// PutBlob implements SysClient.
func (c *SimClient) PutBlob(url string, _ []HTTPHeader, totalLen uint64, cb BlobCallback, user any) Result {
	return c.enqueueBlob(simBlobOp{url: url, totalLen: totalLen, cb: cb, user: user})
}

// PutBlobMSTP implements SysClient.
func (c *SimClient) PutBlobMSTP(storageName, filename string, totalLen uint64, cb BlobCallback, user any) Result {
	return c.enqueueBlob(simBlobOp{
		storageName: storageName, filename: filename,
		totalLen: totalLen, cb: cb, user: user,
	})
}

func (c *SimClient) enqueueBlob(op simBlobOp) Result {
	if op.cb == nil || op.totalLen == 0 {
		return ResultError
	}
	c.mu.Lock()
	c.pending = append(c.pending, func() { c.runBlob(op) })
	c.mu.Unlock()
	return ResultOK
}

// runBlob drives the chunked transfer protocol for one upload.
func (c *SimClient) runBlob(op simBlobOp) {
	c.sim.mu.Lock()
	fail := c.sim.blobFail > 0
	if fail {
		c.sim.blobFail--
	}
	chunk := c.sim.chunkSize
	c.sim.mu.Unlock()

	if fail {
		blob := &BlobData{StatusCode: 500}
		op.cb(blob, ReasonError, op.user)
		return
	}

	var collected bytes.Buffer
	remaining := op.totalLen
	for remaining > 0 {
		n := uint64(chunk)
		if n > remaining {
			n = remaining
		}
		blob := &BlobData{Buffer: make([]byte, n), Len: int(n), StatusCode: 200}
		if op.cb(blob, ReasonMoreData, op.user) != ResultOK {
			return
		}
		collected.Write(blob.Buffer)
		remaining -= n
	}

	if op.url != "" && c.sim.ForwardHTTP {
		req, err := http.NewRequest(http.MethodPut, op.url, bytes.NewReader(collected.Bytes()))
		if err == nil {
			resp, err := c.sim.httpClient.Do(req)
			if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
				code := 0
				if resp != nil {
					code = resp.StatusCode
					_ = resp.Body.Close()
				}
				blob := &BlobData{StatusCode: code, TransportErr: 1}
				op.cb(blob, ReasonError, op.user)
				return
			}
			_ = resp.Body.Close()
		}
	}

	c.sim.mu.Lock()
	c.sim.Blobs = append(c.sim.Blobs, SimBlob{
		URL:         op.url,
		StorageName: op.storageName,
		Filename:    op.filename,
		Body:        collected.Bytes(),
	})
	c.sim.mu.Unlock()

	blob := &BlobData{StatusCode: 200}
	op.cb(blob, ReasonFinished, op.user)
}

// SendTelemetry implements SysClient.
func (c *SimClient) SendTelemetry(topic, body string, cb TelemetryCallback, user any) Result {
	if cb == nil {
		return ResultError
	}
	c.mu.Lock()
	c.pending = append(c.pending, func() {
		c.sim.mu.Lock()
		fail := c.sim.telemetryErr > 0 || !c.sim.connected
		if c.sim.telemetryErr > 0 {
			c.sim.telemetryErr--
		}
		if !fail {
			c.sim.Telemetry = append(c.sim.Telemetry, SimTelemetry{Topic: topic, Body: body})
		}
		c.sim.mu.Unlock()
		if fail {
			cb(ReasonError, user)
		} else {
			cb(ReasonFinished, user)
		}
	})
	c.mu.Unlock()
	return ResultOK
}

// ProcessEvent implements SysClient. It drains all pending operations;
// with no work it reports a timeout like the real pump.
func (c *SimClient) ProcessEvent(timeout time.Duration) Result {
	c.mu.Lock()
	ops := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(ops) == 0 {
		if timeout > 0 {
			time.Sleep(time.Millisecond)
		}
		return ResultTimedOut
	}
	for _, op := range ops {
		op()
	}
	return ResultOK
}
