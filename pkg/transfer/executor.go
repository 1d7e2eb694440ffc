package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/wentf9/sftpq/pkg/models"
)

// reporter 执行器向队列汇报状态、大小和进度
type reporter interface {
	jobStatus(id int64, status models.JobStatus)
	jobSize(id int64, size int64)
	jobProgress(id int64, done, total int64)
	jobExtracted(id int64, dir string)
}

// Executor 执行单个文件任务: 打包 -> 建目录 -> 传输 -> 解包
type Executor struct {
	job     models.TransferJob
	session Session
	report  reporter
	logf    LogFunc
	tempDir string

	mu   sync.Mutex
	size int64 // 权威大小
}

func newExecutor(job models.TransferJob, session Session, report reporter, logf LogFunc, tempDir string) (*Executor, error) {
	if session == nil {
		return nil, ErrNoSession
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if logf == nil {
		logf = func(slog.Level, string) {}
	}
	return &Executor{
		job:     job,
		session: session,
		report:  report,
		logf:    logf,
		tempDir: tempDir,
		size:    job.TotalSize,
	}, nil
}

// Run 执行直到结束，返回 nil 表示成功，取消时返回 context 的错误
func (e *Executor) Run(ctx context.Context) (err error) {
	var tempArchive string
	defer func() {
		if tempArchive != "" {
			if rmErr := os.Remove(tempArchive); rmErr != nil && !os.IsNotExist(rmErr) {
				e.logf(slog.LevelWarn, fmt.Sprintf("Could not remove temporary archive '%s': %v", tempArchive, rmErr))
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	rfs, err := e.session.OpenFS(ctx)
	if err != nil {
		return fmt.Errorf("open transfer channel failed: %w", err)
	}
	defer rfs.Close()

	// 打包上传先进入 ZIPPING，拿到归档大小后再进入 IN_PROGRESS
	if !e.zipping() {
		e.report.jobStatus(e.job.ID, models.StatusInProgress)
	}

	switch e.job.Direction {
	case models.Upload:
		tempArchive, err = e.upload(ctx, rfs)
	case models.Download:
		err = e.download(ctx, rfs)
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	total := e.authoritativeSize()
	e.report.jobProgress(e.job.ID, total, total)
	return nil
}

func (e *Executor) upload(ctx context.Context, rfs RemoteFS) (tempArchive string, err error) {
	localPath := e.job.EffectiveLocalPath

	if e.zipping() {
		e.report.jobStatus(e.job.ID, models.StatusZipping)
		e.logf(slog.LevelInfo, fmt.Sprintf("Zipping '%s' for upload (job %d)", e.job.OriginalSourcePath, e.job.ID))

		tmp, err := os.CreateTemp(e.tempDir, fmt.Sprintf("sftpq_upload_%d_*.zip", e.job.ID))
		if err != nil {
			return "", fmt.Errorf("create temporary archive failed: %w", err)
		}
		tempArchive = tmp.Name()
		tmp.Close()

		size, err := createArchive(ctx, e.job.OriginalSourcePath, tempArchive)
		if err != nil {
			return tempArchive, fmt.Errorf("zip '%s' failed: %w", e.job.OriginalSourcePath, err)
		}
		e.setSize(size)
		localPath = tempArchive
		e.report.jobStatus(e.job.ID, models.StatusInProgress)
	} else {
		info, err := os.Stat(localPath)
		if err != nil {
			return "", fmt.Errorf("stat local file failed: %w", err)
		}
		e.setSize(info.Size())
	}

	if err := ctx.Err(); err != nil {
		return tempArchive, err
	}
	remoteDir := path.Dir(e.job.EffectiveRemotePath)
	if err := rfs.MkdirAll(remoteDir); err != nil {
		return tempArchive, fmt.Errorf("create remote directory '%s' failed: %w", remoteDir, err)
	}

	e.logf(slog.LevelInfo, fmt.Sprintf("Uploading '%s' to '%s' (job %d)", localPath, e.job.EffectiveRemotePath, e.job.ID))
	if err := rfs.Put(ctx, localPath, e.job.EffectiveRemotePath, e.progress(ctx)); err != nil {
		return tempArchive, err
	}
	return tempArchive, nil
}

func (e *Executor) download(ctx context.Context, rfs RemoteFS) error {
	localPath := e.job.EffectiveLocalPath
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create local directory failed: %w", err)
	}

	if e.authoritativeSize() == 0 {
		if info, err := rfs.Stat(e.job.EffectiveRemotePath); err == nil {
			e.setSize(info.Size())
		} else {
			e.logf(slog.LevelWarn, fmt.Sprintf("Could not stat '%s' for size (job %d): %v", e.job.EffectiveRemotePath, e.job.ID, err))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.logf(slog.LevelInfo, fmt.Sprintf("Downloading '%s' to '%s' (job %d)", e.job.EffectiveRemotePath, localPath, e.job.ID))
	if err := rfs.Get(ctx, e.job.EffectiveRemotePath, localPath, e.progress(ctx)); err != nil {
		return err
	}

	if !e.job.UnzipDownload || !isArchive(localPath) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.report.jobStatus(e.job.ID, models.StatusUnzipping)
	dest := e.job.FinalExtractionPath
	if dest == "" {
		dest = resolveExtractionDir(localPath, e.job.ID)
	}
	if err := extractArchive(ctx, localPath, dest); err != nil {
		return fmt.Errorf("unzip '%s' failed: %w", localPath, err)
	}
	e.report.jobExtracted(e.job.ID, dest)
	e.logf(slog.LevelInfo, fmt.Sprintf("Unzipped '%s' to '%s' (job %d)", localPath, dest, e.job.ID))

	if err := os.Remove(localPath); err != nil {
		e.logf(slog.LevelWarn, fmt.Sprintf("Could not remove downloaded archive '%s': %v", localPath, err))
	}
	return nil
}

// progress 每次回调都检查取消，已取消时返回错误中止传输
func (e *Executor) progress(ctx context.Context) ProgressFunc {
	return func(done, total int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if total > 0 && total != e.authoritativeSize() {
			e.setSize(total)
		}
		e.report.jobProgress(e.job.ID, done, e.authoritativeSize())
		return nil
	}
}

func (e *Executor) zipping() bool {
	return e.job.Direction == models.Upload && e.job.ZipUpload
}

func (e *Executor) setSize(size int64) {
	e.mu.Lock()
	changed := e.size != size
	e.size = size
	e.mu.Unlock()
	if changed {
		e.report.jobSize(e.job.ID, size)
	}
}

func (e *Executor) authoritativeSize() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}
