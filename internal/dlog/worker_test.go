package dlog

import (
	"bytes"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/settings"
	"github.com/edgelogd/edgelogd/internal/uploader"
)

func newTestStore() *settings.Store {
	return settings.NewStore(settings.ParameterValue{
		DlogLevel: settings.LevelInfo,
		ElogLevel: settings.LevelInfo,
	}, true, nil, zap.NewNop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

func TestWorker_BufferFullLandsOnCloudList(t *testing.T) {
	in, q := newTestIngest(t, time.Second)
	store := newTestStore()
	local, cloud := uploader.NewList(4), uploader.NewList(4)

	w := NewWorker(in, q, local, cloud, store, nil, 20*time.Millisecond,
		observability.NewMetrics(), zap.NewNop())
	w.Start()
	defer w.Fin()

	first := rec('a', 16)
	if err := in.Write(first, false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := in.Write(rec('b', 16), false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return cloud.Len() == 1 })

	e := cloud.Tail()
	if e.TotalSize != 16 {
		t.Fatalf("entry size = %d, want 16", e.TotalSize)
	}
	if !bytes.Equal(e.Buf[:16], first) {
		t.Errorf("entry bytes do not match the filled plane")
	}
	if e.Block != settings.BlockSysApp {
		t.Errorf("entry block = %v, want SysApp", e.Block)
	}
}

func TestWorker_LocalRouteForVicappBulk(t *testing.T) {
	in, q := newTestIngest(t, time.Second)
	store := newTestStore()
	if err := store.Set(settings.BlockVicapp,
		settings.ParameterValue{StorageName: "http://host/logs"},
		settings.ParameterMask{StorageName: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	local, cloud := uploader.NewList(4), uploader.NewList(4)

	w := NewWorker(in, q, local, cloud, store, nil, 20*time.Millisecond,
		observability.NewMetrics(), zap.NewNop())
	w.Start()
	defer w.Fin()

	buf := make([]byte, 32)
	copy(buf, "bulk!")
	if err := q.Send(Notification{
		Cmd:      CmdSendBulk,
		Data:     buf,
		DataSize: 5,
		BufSize:  32,
		Block:    settings.BlockVicapp,
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return local.Len() == 1 })
	if cloud.Len() != 0 {
		t.Error("bulk entry must not land on the cloud list")
	}
	e := local.Tail()
	if string(e.Buf) != "bulk!" {
		t.Errorf("entry bytes = %q", e.Buf)
	}
}

func TestWorker_ListFullDropsBuffer(t *testing.T) {
	in, q := newTestIngest(t, time.Second)
	store := newTestStore()
	local, cloud := uploader.NewList(1), uploader.NewList(1)

	w := NewWorker(in, q, local, cloud, store, nil, 20*time.Millisecond,
		observability.NewMetrics(), zap.NewNop())
	w.Start()
	defer w.Fin()

	for i := 0; i < 3; i++ {
		buf := make([]byte, 32)
		if err := q.Send(Notification{
			Cmd:      CmdSendBulk,
			Data:     buf,
			DataSize: 4,
			BufSize:  32,
			Block:    settings.BlockSysApp,
		}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return q.Len() == 0 })
	if cloud.Len() != 1 {
		t.Fatalf("cloud list len = %d, want 1 (drop-newest)", cloud.Len())
	}
}

type countingEncryptor struct {
	calls int
}

func (c *countingEncryptor) Encrypt(data []byte, dataLen, bufLen int) (int, error) {
	c.calls++
	// Pad to the next cipher block boundary, like the sec-util does.
	out := dataLen + (16 - dataLen%16)
	if out > bufLen {
		out = bufLen
	}
	return out, nil
}

func TestWorker_EncryptionRouting(t *testing.T) {
	in, q := newTestIngest(t, time.Second)
	store := newTestStore()
	if err := store.Set(settings.BlockVicapp,
		settings.ParameterValue{StorageName: "http://host/logs"},
		settings.ParameterMask{StorageName: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	local, cloud := uploader.NewList(4), uploader.NewList(4)
	enc := &countingEncryptor{}

	w := NewWorker(in, q, local, cloud, store, enc, 20*time.Millisecond,
		observability.NewMetrics(), zap.NewNop())
	w.Start()
	defer w.Fin()

	send := func(block settings.BlockType) {
		buf := make([]byte, 32)
		copy(buf, "data")
		if err := q.Send(Notification{
			Cmd: CmdSendBulk, Data: buf, DataSize: 4, BufSize: 32, Block: block,
		}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	// Cloud + non-Vicapp: encrypted.
	send(settings.BlockSysApp)
	waitFor(t, 2*time.Second, func() bool { return cloud.Len() == 1 })
	if enc.calls != 1 {
		t.Fatalf("encryptor calls = %d, want 1", enc.calls)
	}
	if e := cloud.Tail(); e.TotalSize != 16 {
		t.Errorf("encrypted size = %d, want padded 16", e.TotalSize)
	}

	// Local Vicapp: never encrypted.
	send(settings.BlockVicapp)
	waitFor(t, 2*time.Second, func() bool { return local.Len() == 1 })
	if enc.calls != 1 {
		t.Errorf("local upload must bypass encryption, calls = %d", enc.calls)
	}
}
