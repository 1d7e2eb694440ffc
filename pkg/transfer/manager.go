package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wentf9/sftpq/pkg/events"
	"github.com/wentf9/sftpq/pkg/logger"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/utils"
)

// EnqueueRequest 一次入队请求
type EnqueueRequest struct {
	SourcePath  string
	TargetPath  string
	Direction   models.Direction
	IsDirectory bool
	// 上传时先整体打包成 zip
	ZipUpload bool
	// 下载 zip 后解压
	UnzipDownload bool
	// 解压目录，为空时自动生成
	ExtractionPath string
}

// Stats 队列统计
type Stats struct {
	Total    int
	ByStatus map[models.JobStatus]int
	Active   int
	Scanning int
}

// Pending 还有未结束的任务
func (s Stats) Pending() int {
	n := 0
	for status, count := range s.ByStatus {
		if !status.IsTerminal() {
			n += count
		}
	}
	return n
}

type scanHandle struct {
	cancel context.CancelFunc
}

// Manager 传输队列: 持有全部任务状态，按 FIFO 派发，限制并发
// 所有状态变化都在 mu 下完成，事件经 outbox 按顺序发布
type Manager struct {
	cfg      Config
	provider SessionProvider
	bus      *events.EventBus
	out      *outbox
	pool     utils.WorkerPool
	log      *slog.Logger
	ids      models.IDGenerator

	mu             sync.Mutex
	jobs           []*models.TransferJob
	index          map[int64]*models.TransferJob
	active         map[int64]context.CancelFunc
	scans          map[int64]*scanHandle
	pendingRemoval map[int64]bool
	maxConcurrent  int
	running        bool
	processing     bool
	sessionMisses  int

	ctx       context.Context
	cancel    context.CancelFunc
	kick      chan struct{}
	scanWG    sync.WaitGroup
	closeOnce sync.Once
}

func NewManager(provider SessionProvider, bus *events.EventBus, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:            DefaultConfig(),
		provider:       provider,
		bus:            bus,
		log:            logger.Logger,
		index:          make(map[int64]*models.TransferJob),
		active:         make(map[int64]context.CancelFunc),
		scans:          make(map[int64]*scanHandle),
		pendingRemoval: make(map[int64]bool),
		ctx:            ctx,
		cancel:         cancel,
		kick:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = events.NewEventBus(0)
	}
	if m.pool == nil {
		m.pool = utils.NewWorkerPool(MaxConcurrencyCeiling, utils.WithPanicHandler(func(r any) {
			m.log.Error("transfer executor panicked", "panic", r)
		}))
	}
	m.maxConcurrent = m.cfg.MaxConcurrent
	m.out = newOutbox(m.bus)
	return m
}

// Bus 返回事件总线
func (m *Manager) Bus() *events.EventBus {
	return m.bus
}

// Run 派发循环，周期性或被唤醒时派发任务，ctx 结束后取消所有任务并等待退出
func (m *Manager) Run(ctx context.Context) {
	defer m.Close()

	ticker := time.NewTicker(m.cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		m.dispatch()
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}
	}
}

// Close 取消所有执行器和扫描，等待它们退出后发布剩余事件
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()

		m.cancel()
		m.pool.Wait()
		m.scanWG.Wait()
		m.out.close()
	})
}

func (m *Manager) poke() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Start 开始派发
func (m *Manager) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.sessionMisses = 0
	m.notify(slog.LevelInfo, "Queue processing started.")
	m.mu.Unlock()
	m.poke()
}

// Stop 停止派发，正在执行的任务继续运行
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	m.notify(slog.LevelInfo, "Queue processing stopped. Active transfers will finish.")
	m.updateProcessingLocked()
}

func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// MaxConcurrent 返回当前并发上限
func (m *Manager) MaxConcurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrent
}

// SetMaxConcurrent 只影响之后的派发，不会中断已经在执行的任务
func (m *Manager) SetMaxConcurrent(n int) {
	n = max(1, min(n, MaxConcurrencyCeiling))
	m.mu.Lock()
	changed := m.maxConcurrent != n
	m.maxConcurrent = n
	if changed {
		m.notify(slog.LevelInfo, fmt.Sprintf("Max concurrent transfers set to %d.", n))
	}
	m.mu.Unlock()
	m.poke()
}

// Enqueue 校验请求并入队，目录任务立即开始扫描
func (m *Manager) Enqueue(req EnqueueRequest) (int64, error) {
	job, err := m.buildJob(req)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.addLocked(job)
	if job.IsScanJob() {
		m.startScanLocked(job)
		m.notify(slog.LevelInfo, fmt.Sprintf("Scanning '%s' (job %d)", job.Filename, job.ID))
	} else {
		m.notify(slog.LevelInfo, fmt.Sprintf("Queued %s of '%s' (job %d)", strings.ToLower(string(job.Direction)), job.Filename, job.ID))
	}
	m.updateProcessingLocked()
	m.mu.Unlock()

	m.poke()
	return job.ID, nil
}

func (m *Manager) buildJob(req EnqueueRequest) (*models.TransferJob, error) {
	src := strings.TrimSpace(req.SourcePath)
	dst := strings.TrimSpace(req.TargetPath)
	if src == "" || dst == "" {
		return nil, fmt.Errorf("%w: source and target paths are required", ErrInvalidInput)
	}
	if !req.Direction.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, req.Direction)
	}

	now := time.Now()
	job := &models.TransferJob{
		Direction:   req.Direction,
		IsDirectory: req.IsDirectory,
		Status:      models.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch req.Direction {
	case models.Upload:
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("%w: local source '%s': %v", ErrInvalidInput, src, err)
		}
		if info.IsDir() != req.IsDirectory {
			if info.IsDir() {
				return nil, fmt.Errorf("%w: '%s' is a directory", ErrInvalidInput, src)
			}
			return nil, fmt.Errorf("%w: '%s' is not a directory", ErrInvalidInput, src)
		}
		base := filepath.Base(filepath.Clean(src))
		job.LocalPath = src
		job.RemotePath = dst
		job.EffectiveLocalPath = src
		switch {
		case req.ZipUpload:
			job.ZipUpload = true
			job.OriginalSourcePath = src
			job.Filename = base + models.ArchiveSuffix
		case req.IsDirectory:
			job.Filename = base
			job.Status = models.StatusScanning
		default:
			job.Filename = base
			job.TotalSize = info.Size()
		}
		job.EffectiveRemotePath = path.Join(dst, job.Filename)

	case models.Download:
		remote := path.Clean(src)
		base := path.Base(remote)
		job.RemotePath = remote
		job.LocalPath = dst
		job.Filename = base
		job.EffectiveRemotePath = remote
		job.EffectiveLocalPath = filepath.Join(dst, base)
		if req.IsDirectory {
			job.Status = models.StatusScanning
		} else {
			job.UnzipDownload = req.UnzipDownload
			job.FinalExtractionPath = req.ExtractionPath
		}
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	job.ID = m.ids.Next()
	return job, nil
}

func (m *Manager) addLocked(job *models.TransferJob) {
	m.jobs = append(m.jobs, job)
	m.index[job.ID] = job
	m.out.push(events.NewJobAdded(job.Clone()))
}

func (m *Manager) emitUpdateLocked(job *models.TransferJob, progressOnly bool) {
	m.out.push(events.NewJobUpdated(job.Clone(), progressOnly))
}

// notify 既写日志，也作为 LogMessage 事件发布，调用时是否持有锁都可以
func (m *Manager) notify(level slog.Level, msg string) {
	m.log.Log(context.Background(), level, msg)
	m.out.push(events.NewLogMessage(level, msg))
}

// logFunc 给扫描器和执行器使用
func (m *Manager) logFunc() LogFunc {
	return func(level slog.Level, msg string) {
		m.notify(level, msg)
	}
}

// setStatusLocked 非法迁移只记录日志，不修改任务
func (m *Manager) setStatusLocked(job *models.TransferJob, to models.JobStatus) bool {
	if err := job.Transition(to); err != nil {
		m.log.Warn("ignoring status change", "job", job.ID, "error", err)
		return false
	}
	return true
}

func (m *Manager) updateProcessingLocked() {
	busy := len(m.active) > 0 || len(m.scans) > 0
	if !busy {
		for _, job := range m.jobs {
			if job.Dispatchable() {
				busy = true
				break
			}
		}
	}
	processing := m.running && busy
	if processing == m.processing {
		return
	}
	m.processing = processing
	m.out.push(events.NewProcessingStateChanged(processing))
}

// dispatch 一次派发: 没有会话时累计次数，超过阈值自动停止队列
func (m *Manager) dispatch() {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return
	}

	session := m.provider.Current()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if session == nil {
		m.sessionMisses++
		if m.sessionMisses >= m.cfg.MaxSessionRetries {
			m.running = false
			m.sessionMisses = 0
			m.notify(slog.LevelWarn, "Queue stopped due to persistent session unavailability.")
			m.updateProcessingLocked()
			return
		}
		m.log.Debug("no active session, dispatch skipped", "misses", m.sessionMisses)
		return
	}
	m.sessionMisses = 0

	for len(m.active) < m.maxConcurrent {
		idx := slices.IndexFunc(m.jobs, func(j *models.TransferJob) bool {
			_, busy := m.active[j.ID]
			return !busy && j.Dispatchable()
		})
		if idx < 0 {
			break
		}
		m.startJobLocked(m.jobs[idx], session)
	}
	m.updateProcessingLocked()
}

func (m *Manager) startJobLocked(job *models.TransferJob, session Session) {
	if !m.setStatusLocked(job, models.StatusPendingResources) {
		return
	}
	m.emitUpdateLocked(job, false)

	exec, err := newExecutor(job.Clone(), session, m, m.logFunc(), m.cfg.TempDir)
	if err != nil {
		job.ErrorMessage = "dispatch error: " + err.Error()
		m.setStatusLocked(job, models.StatusFailed)
		m.emitUpdateLocked(job, false)
		m.notify(slog.LevelError, fmt.Sprintf("Could not start '%s' (job %d): %v", job.Filename, job.ID, err))
		return
	}

	id := job.ID
	ctx, cancel := context.WithCancel(m.ctx)
	m.active[id] = cancel
	m.pool.Execute(func() {
		err := errExecutorPanic
		defer func() { m.finish(id, ctx, err) }()
		err = exec.Run(ctx)
	})
}

// finish 执行器退出后记录最终状态，取消和失败分开处理
func (m *Manager) finish(id int64, ctx context.Context, err error) {
	cancelled := err != nil && isCancellation(ctx, err)

	m.mu.Lock()
	if cancel, ok := m.active[id]; ok {
		cancel()
		delete(m.active, id)
	}
	if job, ok := m.index[id]; ok {
		switch {
		case err == nil:
			if m.setStatusLocked(job, models.StatusCompleted) {
				job.BytesTransferred = max(job.BytesTransferred, job.TotalSize)
				job.ProgressPercent = 100
				job.ErrorMessage = ""
				m.notify(slog.LevelInfo, fmt.Sprintf("Completed '%s' (job %d)", job.Filename, job.ID))
			}
		case cancelled:
			if m.setStatusLocked(job, models.StatusCancelled) {
				job.ErrorMessage = fmt.Sprintf("Operation for '%s' cancelled.", job.Filename)
				m.notify(slog.LevelWarn, job.ErrorMessage)
			}
		default:
			if m.setStatusLocked(job, models.StatusFailed) {
				job.ErrorMessage = err.Error()
				m.notify(slog.LevelError, fmt.Sprintf("Failed '%s' (job %d): %v", job.Filename, job.ID, err))
			}
		}
		m.emitUpdateLocked(job, false)

		if m.pendingRemoval[id] {
			m.removeLocked(id)
		}
	}
	m.updateProcessingLocked()
	m.mu.Unlock()

	m.poke()
}

func (m *Manager) startScanLocked(job *models.TransferJob) {
	ctx, cancel := context.WithCancel(m.ctx)
	h := &scanHandle{cancel: cancel}
	m.scans[job.ID] = h

	var session Session
	if job.Direction == models.Download {
		session = m.provider.Current()
	}
	sweeper := NewSweeper(job.Clone(), session, m.logFunc())

	m.scanWG.Add(1)
	go func() {
		defer m.scanWG.Done()
		sweeper.Run(ctx, func(result ScanResult) {
			m.scanDone(h, result)
		})
	}()
}

// scanDone 扫描结束: 为每个文件创建子任务，目录任务本身标记为完成
// 已被移除、取消或重新扫描的任务忽略结果
func (m *Manager) scanDone(h *scanHandle, result ScanResult) {
	m.mu.Lock()
	defer func() {
		m.updateProcessingLocked()
		m.mu.Unlock()
		m.poke()
	}()

	if m.scans[result.JobID] != h {
		return
	}
	delete(m.scans, result.JobID)
	h.cancel()

	job, ok := m.index[result.JobID]
	if !ok || job.Status != models.StatusScanning {
		return
	}

	switch {
	case result.Cancelled:
		job.ErrorMessage = "Scan cancelled."
		m.setStatusLocked(job, models.StatusCancelled)
		m.notify(slog.LevelWarn, fmt.Sprintf("Scan of '%s' cancelled (job %d)", job.Filename, job.ID))
	case result.Err != nil:
		job.ErrorMessage = "Scan failed: " + result.Err.Error()
		m.setStatusLocked(job, models.StatusFailed)
		m.notify(slog.LevelError, fmt.Sprintf("Scan of '%s' failed (job %d): %v", job.Filename, job.ID, result.Err))
	default:
		for _, entry := range result.Entries {
			m.addLocked(m.childJob(job, entry))
		}
		if len(result.Entries) == 0 {
			job.Message = "Directory is empty or no scannable files found."
		} else {
			job.Message = fmt.Sprintf("Scan complete: %d files queued.", len(result.Entries))
		}
		job.ProgressPercent = 100
		m.setStatusLocked(job, models.StatusCompleted)
		m.notify(slog.LevelInfo, fmt.Sprintf("'%s': %s", job.Filename, job.Message))
	}
	m.emitUpdateLocked(job, false)
}

// childJob 扫描出的文件任务，不继承打包/解压设置
func (m *Manager) childJob(parent *models.TransferJob, entry FileEntry) *models.TransferJob {
	now := time.Now()
	child := &models.TransferJob{
		ID:        m.ids.Next(),
		ParentID:  parent.ID,
		Direction: parent.Direction,
		Filename:  entry.Filename,
		TotalSize: entry.Size,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch parent.Direction {
	case models.Upload:
		child.LocalPath = entry.SourcePath
		child.RemotePath = path.Dir(entry.TargetPath)
		child.EffectiveLocalPath = entry.SourcePath
		child.EffectiveRemotePath = entry.TargetPath
	case models.Download:
		child.RemotePath = entry.SourcePath
		child.LocalPath = filepath.Dir(entry.TargetPath)
		child.EffectiveRemotePath = entry.SourcePath
		child.EffectiveLocalPath = entry.TargetPath
	}
	return child
}

// jobStatus 执行器汇报的阶段变化
func (m *Manager) jobStatus(id int64, status models.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.index[id]
	if !ok || job.Status.IsTerminal() {
		return
	}
	started := job.Status == models.StatusPendingResources &&
		(status == models.StatusInProgress || status == models.StatusZipping)
	if !m.setStatusLocked(job, status) {
		return
	}
	if started {
		job.BytesTransferred = 0
		job.ProgressPercent = 0
		job.ErrorMessage = ""
		m.log.Debug("transfer started", "job", id, "file", job.Filename)
	}
	m.emitUpdateLocked(job, false)
}

func (m *Manager) jobSize(id int64, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.index[id]
	if !ok || job.Status.IsTerminal() || job.TotalSize == size {
		return
	}
	job.TotalSize = size
	job.ProgressPercent = models.Percent(job.BytesTransferred, size)
	job.UpdatedAt = time.Now()
	m.emitUpdateLocked(job, false)
}

// jobProgress 百分比变化时才发布，字节数不回退
func (m *Manager) jobProgress(id int64, done, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.index[id]
	if !ok || job.Status.IsTerminal() {
		return
	}
	if job.ApplyProgress(done, total) {
		m.emitUpdateLocked(job, true)
	}
}

func (m *Manager) jobExtracted(id int64, dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.index[id]
	if !ok {
		return
	}
	job.FinalExtractionPath = dir
	m.emitUpdateLocked(job, false)
}

func (m *Manager) removeLocked(id int64) bool {
	idx := slices.IndexFunc(m.jobs, func(j *models.TransferJob) bool { return j.ID == id })
	if idx < 0 {
		return false
	}
	m.jobs = slices.Delete(m.jobs, idx, idx+1)
	delete(m.index, id)
	delete(m.pendingRemoval, id)
	m.out.push(events.NewJobRemoved(id))
	return true
}

// Remove 移除任务，返回立即移除的数量
// 正在执行的任务先取消，执行器退出后再移除；正在扫描的任务取消扫描后移除
func (m *Manager) Remove(ids ...int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, id := range ids {
		job, ok := m.index[id]
		if !ok {
			continue
		}
		if cancel, ok := m.active[id]; ok {
			m.pendingRemoval[id] = true
			cancel()
			m.notify(slog.LevelInfo, fmt.Sprintf("Cancelling '%s' (job %d) before removal", job.Filename, id))
			continue
		}
		if h, ok := m.scans[id]; ok {
			delete(m.scans, id)
			h.cancel()
			job.ErrorMessage = "Scan cancelled by user removal."
			if m.setStatusLocked(job, models.StatusCancelled) {
				m.emitUpdateLocked(job, false)
			}
		}
		if m.removeLocked(id) {
			removed++
		}
	}
	if removed > 0 {
		m.notify(slog.LevelInfo, fmt.Sprintf("Removed %d job(s).", removed))
	}
	m.updateProcessingLocked()
	return removed
}

// Retry 失败或取消的任务重新入队，目录任务重新扫描
func (m *Manager) Retry(ids ...int64) int {
	m.mu.Lock()
	retried := 0
	for _, id := range ids {
		job, ok := m.index[id]
		if !ok {
			m.log.Debug("retry: job not found", "job", id)
			continue
		}
		if _, busy := m.active[id]; busy {
			continue
		}
		if !job.Status.CanRetry() {
			m.notify(slog.LevelWarn, fmt.Sprintf("Job %d is %s and cannot be retried.", id, job.Status))
			continue
		}

		if job.IsScanJob() {
			if err := job.Reopen(models.StatusScanning); err != nil {
				m.log.Warn("retry failed", "job", id, "error", err)
				continue
			}
			m.startScanLocked(job)
		} else {
			if err := job.Reopen(models.StatusQueued); err != nil {
				m.log.Warn("retry failed", "job", id, "error", err)
				continue
			}
			if job.Direction == models.Upload && !job.ZipUpload {
				if info, err := os.Stat(job.EffectiveLocalPath); err == nil {
					job.TotalSize = info.Size()
				}
			}
		}
		m.emitUpdateLocked(job, false)
		retried++
	}
	if retried > 0 {
		m.notify(slog.LevelInfo, fmt.Sprintf("Retrying %d job(s).", retried))
	}
	m.updateProcessingLocked()
	m.mu.Unlock()

	m.poke()
	return retried
}

// ClearCompleted 移除所有已完成的任务
func (m *Manager) ClearCompleted() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for _, job := range m.jobs {
		if job.Status == models.StatusCompleted {
			ids = append(ids, job.ID)
		}
	}
	for _, id := range ids {
		m.removeLocked(id)
	}
	if len(ids) > 0 {
		m.notify(slog.LevelInfo, fmt.Sprintf("Cleared %d completed job(s).", len(ids)))
	}
	return len(ids)
}

// CancelActive 取消所有正在执行的任务，队列中的任务不受影响
func (m *Manager) CancelActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cancel := range m.active {
		cancel()
	}
	if n := len(m.active); n > 0 {
		m.notify(slog.LevelWarn, fmt.Sprintf("Cancelling %d active transfer(s).", n))
	}
	return len(m.active)
}

// CancelScans 取消所有正在进行的目录扫描
func (m *Manager) CancelScans() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, h := range m.scans {
		delete(m.scans, id)
		h.cancel()
		n++
		job, ok := m.index[id]
		if !ok {
			continue
		}
		job.ErrorMessage = "Scan cancelled."
		if m.setStatusLocked(job, models.StatusCancelled) {
			m.emitUpdateLocked(job, false)
		}
	}
	if n > 0 {
		m.notify(slog.LevelWarn, fmt.Sprintf("Cancelled %d directory scan(s).", n))
	}
	m.updateProcessingLocked()
	return n
}

// Jobs 按入队顺序返回所有任务的快照
func (m *Manager) Jobs() []models.TransferJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TransferJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	return out
}

func (m *Manager) Job(id int64) (models.TransferJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.index[id]
	if !ok {
		return models.TransferJob{}, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Total:    len(m.jobs),
		ByStatus: make(map[models.JobStatus]int),
		Active:   len(m.active),
		Scanning: len(m.scans),
	}
	for _, job := range m.jobs {
		s.ByStatus[job.Status]++
	}
	return s
}
