package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wentf9/sftpq/pkg/events"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/transfer"
)

func TestProviderLifecycle(t *testing.T) {
	srv := startServer(t)
	p := NewProvider(testConnector(t, srv, testPassword), "box", Options{})

	if p.Current() != nil {
		t.Fatal("Expected no session before Connect")
	}
	if _, err := p.Session(); err != ErrNotConnected {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := p.Connect(t.Context()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	sess := p.Current()
	if sess == nil {
		t.Fatal("Expected a session after Connect")
	}

	rfs, err := sess.OpenFS(t.Context())
	if err != nil {
		t.Fatalf("OpenFS failed: %v", err)
	}
	defer rfs.Close()

	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	os.WriteFile(src, []byte("hello"), 0644)
	if err := rfs.Put(t.Context(), src, filepath.Join(dir, "remote", "a.txt"), nil); err == nil {
		// 远程父目录不存在时应当失败
		t.Error("Expected Put into a missing directory to fail")
	}
	if err := rfs.MkdirAll(filepath.Join(dir, "remote")); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := rfs.Put(t.Context(), src, filepath.Join(dir, "remote", "a.txt"), nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if data, _ := os.ReadFile(filepath.Join(dir, "remote", "a.txt")); string(data) != "hello" {
		t.Errorf("Unexpected remote content %q", data)
	}

	p.Disconnect()
	if p.Current() != nil {
		t.Error("Expected no session after Disconnect")
	}
}

func TestProviderAuthFailure(t *testing.T) {
	srv := startServer(t)
	p := NewProvider(testConnector(t, srv, "wrong"), "box", Options{})
	err := p.Connect(t.Context())
	if err == nil || !strings.Contains(err.Error(), "handshake") {
		t.Errorf("Expected handshake error, got %v", err)
	}
	if p.Current() != nil {
		t.Error("Expected no session after failed Connect")
	}
}

func TestProviderUnknownNode(t *testing.T) {
	srv := startServer(t)
	p := NewProvider(testConnector(t, srv, testPassword), "ghost", Options{})
	if err := p.Connect(t.Context()); err == nil {
		t.Error("Expected error for unknown node")
	}
}

func TestProviderMarksSessionLost(t *testing.T) {
	srv := startServer(t)
	var lost atomic.Int32
	p := NewProvider(testConnector(t, srv, testPassword), "box", Options{
		KeepAliveInterval: 20 * time.Millisecond,
		OnLost:            func(string, error) { lost.Add(1) },
	})
	if err := p.Connect(t.Context()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	srv.dropAll()
	deadline := time.After(5 * time.Second)
	for p.Current() != nil {
		select {
		case <-deadline:
			t.Fatal("Session was not marked lost")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if lost.Load() != 1 {
		t.Errorf("Expected OnLost once, got %d", lost.Load())
	}

	if err := p.Reconnect(t.Context()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if p.Current() == nil {
		t.Error("Expected a session after Reconnect")
	}
}

func TestProviderProbeBeforeConnect(t *testing.T) {
	srv := startServer(t)
	p := NewProvider(testConnector(t, srv, testPassword), "box", Options{Probe: true, ProbeTimeout: 500 * time.Millisecond})
	if err := p.Connect(t.Context()); err != nil {
		t.Fatalf("Connect with probe failed: %v", err)
	}
	srv.ln.Close()
	p.Disconnect()
	if err := p.Connect(t.Context()); err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("Expected unreachable error, got %v", err)
	}
}

// 真实 SSH 连接上跑完整个队列
func TestManagerOverSSH(t *testing.T) {
	srv := startServer(t)
	p := NewProvider(testConnector(t, srv, testPassword), "box", Options{})
	if err := p.Connect(t.Context()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	local := filepath.Join(t.TempDir(), "photos")
	for i := range 5 {
		name := filepath.Join(local, "day"+itoa(i%2), "img"+itoa(i)+".jpg")
		os.MkdirAll(filepath.Dir(name), 0755)
		os.WriteFile(name, []byte(strings.Repeat("p", 1000*(i+1))), 0644)
	}
	remote := t.TempDir()

	cfg := transfer.DefaultConfig()
	cfg.DispatchInterval = 10 * time.Millisecond
	cfg.TempDir = t.TempDir()
	m := transfer.NewManager(p, events.NewEventBus(4096), transfer.WithConfig(cfg))
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if _, err := m.Enqueue(transfer.EnqueueRequest{
		SourcePath:  local,
		TargetPath:  remote,
		Direction:   models.Upload,
		IsDirectory: true,
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	m.Start()

	deadline := time.After(10 * time.Second)
	for {
		st := m.Stats()
		if st.Total == 6 && st.ByStatus[models.StatusCompleted] == 6 {
			break
		}
		if st.ByStatus[models.StatusFailed] > 0 {
			t.Fatalf("Unexpected failure: %+v", m.Jobs())
		}
		select {
		case <-deadline:
			t.Fatalf("Timed out, stats %+v", st)
		case <-time.After(20 * time.Millisecond):
		}
	}
	data, err := os.ReadFile(filepath.Join(remote, "photos", "day1", "img3.jpg"))
	if err != nil || len(data) != 4000 {
		t.Errorf("Unexpected uploaded file: %d bytes (%v)", len(data), err)
	}
}
