package transfer

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wentf9/sftpq/pkg/events"
	"github.com/wentf9/sftpq/pkg/models"
)

// remoteRoot 用本地临时目录模拟远程文件系统
type remoteRoot struct {
	dir string

	chunk      int64
	chunkDelay time.Duration
	// block 非空时传输开始后一直等待，直到 ctx 取消
	block bool
	// readDirGate 非空时 ReadDir 等待它关闭
	readDirGate chan struct{}

	mu      sync.Mutex
	openErr error

	opened      atomic.Int32
	closed      atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newRemoteRoot(t *testing.T) *remoteRoot {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks failed: %v", err)
	}
	return &remoteRoot{dir: dir, chunk: 4}
}

func (r *remoteRoot) local(p string) string {
	return filepath.Join(r.dir, filepath.FromSlash(path.Clean("/"+p)))
}

func (r *remoteRoot) writeFile(t *testing.T, p string, data string) {
	t.Helper()
	full := r.local(p)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(full, []byte(data), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func (r *remoteRoot) setOpenErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openErr = err
}

func (r *remoteRoot) OpenFS(ctx context.Context) (RemoteFS, error) {
	r.mu.Lock()
	err := r.openErr
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.opened.Add(1)
	return &localFS{root: r}, nil
}

type localFS struct {
	root *remoteRoot
}

func (f *localFS) ReadDir(p string) ([]os.FileInfo, error) {
	if f.root.readDirGate != nil {
		<-f.root.readDirGate
	}
	entries, err := os.ReadDir(f.root.local(p))
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		// 跟随符号链接，模拟会解析链接的服务器
		info, err := os.Stat(filepath.Join(f.root.local(p), e.Name()))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (f *localFS) Stat(p string) (os.FileInfo, error) {
	return os.Stat(f.root.local(p))
}

func (f *localFS) MkdirAll(p string) error {
	return os.MkdirAll(f.root.local(p), 0755)
}

func (f *localFS) Remove(p string) error {
	return os.Remove(f.root.local(p))
}

func (f *localFS) RemoveDirectory(p string) error {
	return os.Remove(f.root.local(p))
}

func (f *localFS) RealPath(p string) (string, error) {
	real, err := filepath.EvalSymlinks(f.root.local(p))
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(f.root.dir, real)
	if err != nil {
		return "", err
	}
	return path.Clean("/" + filepath.ToSlash(rel)), nil
}

func (f *localFS) Put(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	return f.copy(ctx, localPath, f.root.local(remotePath), progress)
}

func (f *localFS) Get(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error {
	return f.copy(ctx, f.root.local(remotePath), localPath, progress)
}

func (f *localFS) Close() error {
	f.root.closed.Add(1)
	return nil
}

func (f *localFS) copy(ctx context.Context, src, dst string, progress ProgressFunc) error {
	n := f.root.inFlight.Add(1)
	defer f.root.inFlight.Add(-1)
	for {
		cur := f.root.maxInFlight.Load()
		if n <= cur || f.root.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if f.root.block {
		<-ctx.Done()
		return ctx.Err()
	}

	total := info.Size()
	var done int64
	buf := make([]byte, f.root.chunk)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.root.chunkDelay > 0 {
			time.Sleep(f.root.chunkDelay)
		}
		k, rerr := in.Read(buf)
		if k > 0 {
			if _, err := out.Write(buf[:k]); err != nil {
				return err
			}
			done += int64(k)
			if progress != nil {
				if err := progress(done, total); err != nil {
					return err
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// fakeProvider 可以随时切换当前会话
type fakeProvider struct {
	mu      sync.Mutex
	session Session
}

func (p *fakeProvider) Current() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

func (p *fakeProvider) set(s Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
}

// eventLog 收集总线上的所有事件
type eventLog struct {
	mu   sync.Mutex
	all  []events.Event
	done chan struct{}
}

func collectEvents(bus *events.EventBus) *eventLog {
	l := &eventLog{done: make(chan struct{})}
	ch := bus.SubscribeAll()
	go func() {
		defer close(l.done)
		for e := range ch {
			l.mu.Lock()
			l.all = append(l.all, e)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) snapshot() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.all...)
}

// updates 返回某个任务的所有状态更新，按发布顺序
func (l *eventLog) updates(id int64) []models.TransferJob {
	var out []models.TransferJob
	for _, e := range l.snapshot() {
		if u, ok := e.(*events.JobUpdatedEvent); ok && u.Job.ID == id {
			out = append(out, u.Job)
		}
	}
	return out
}

func (l *eventLog) hasLog(msg string) bool {
	for _, e := range l.snapshot() {
		if lm, ok := e.(*events.LogMessageEvent); ok && lm.Message == msg {
			return true
		}
	}
	return false
}

func (l *eventLog) removed(id int64) bool {
	for _, e := range l.snapshot() {
		if r, ok := e.(*events.JobRemovedEvent); ok && r.JobID == id {
			return true
		}
	}
	return false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

type testQueue struct {
	*Manager
	events *eventLog
	stop   func()
}

// startQueue 启动一个派发间隔很短的队列，测试结束时关闭
func startQueue(t *testing.T, provider SessionProvider, cfg Config) *testQueue {
	t.Helper()
	if cfg.DispatchInterval == 0 {
		cfg.DispatchInterval = 10 * time.Millisecond
	}
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	bus := events.NewEventBus(4096)
	m := NewManager(provider, bus, WithConfig(cfg))
	log := collectEvents(bus)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		m.Run(ctx)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-stopped
			bus.Close()
			<-log.done
		})
	}
	t.Cleanup(stop)
	return &testQueue{Manager: m, events: log, stop: stop}
}

func (q *testQueue) waitStatus(t *testing.T, id int64, status models.JobStatus) models.TransferJob {
	t.Helper()
	var job models.TransferJob
	eventually(t, "job to reach "+string(status), func() bool {
		j, err := q.Job(id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	})
	return job
}

func writeLocal(t *testing.T, p, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}
