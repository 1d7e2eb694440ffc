package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/wentf9/sftpq/pkg/models"
)

// FileEntry 扫描出的单个文件
type FileEntry struct {
	SourcePath string
	TargetPath string
	Filename   string
	Size       int64
}

// ScanResult 一次扫描的结果
type ScanResult struct {
	JobID     int64
	Entries   []FileEntry
	Err       error
	Cancelled bool
}

// LogFunc 扫描和执行过程中的用户可见日志
type LogFunc func(level slog.Level, msg string)

// Sweeper 把目录任务展开成文件列表，只读取元数据
type Sweeper struct {
	job     models.TransferJob
	session Session
	logf    LogFunc
}

// NewSweeper 上传扫描本地目录不需要会话，下载扫描需要
func NewSweeper(job models.TransferJob, session Session, logf LogFunc) *Sweeper {
	if logf == nil {
		logf = func(slog.Level, string) {}
	}
	return &Sweeper{job: job, session: session, logf: logf}
}

// Run 执行扫描，done 无论结果如何都恰好被调用一次
func (s *Sweeper) Run(ctx context.Context, done func(ScanResult)) {
	result := ScanResult{JobID: s.job.ID}
	defer func() {
		if result.Err != nil && isCancellation(ctx, result.Err) {
			result.Cancelled = true
			result.Err = nil
			result.Entries = nil
		}
		done(result)
	}()

	switch s.job.Direction {
	case models.Upload:
		result.Entries, result.Err = s.scanLocal(ctx)
	case models.Download:
		result.Entries, result.Err = s.scanRemote(ctx)
	default:
		result.Err = fmt.Errorf("unknown direction %q", s.job.Direction)
	}
}

// scanLocal 遍历本地目录，远程根目录为 remotePath/目录名
func (s *Sweeper) scanLocal(ctx context.Context) ([]FileEntry, error) {
	localRoot := s.job.LocalPath
	remoteRoot := path.Join(s.job.RemotePath, filepath.Base(filepath.Clean(localRoot)))

	var entries []FileEntry
	err := filepath.WalkDir(localRoot, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if p == localRoot {
				return walkErr
			}
			s.logf(slog.LevelWarn, fmt.Sprintf("Skipping unreadable path '%s': %v", p, walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			s.logf(slog.LevelWarn, fmt.Sprintf("Skipping '%s': cannot read size: %v", p, err))
			return nil
		}
		rel, err := filepath.Rel(localRoot, p)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{
			SourcePath: p,
			TargetPath: path.Join(remoteRoot, filepath.ToSlash(rel)),
			Filename:   d.Name(),
			Size:       info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// scanRemote 广度优先遍历远程目录，visited 按规范化路径去重，防止符号链接成环
func (s *Sweeper) scanRemote(ctx context.Context) ([]FileEntry, error) {
	if s.session == nil {
		return nil, ErrNoSession
	}
	rfs, err := s.session.OpenFS(ctx)
	if err != nil {
		return nil, fmt.Errorf("open channel for scan failed: %w", err)
	}
	defer rfs.Close()

	remoteRoot := strings.TrimRight(s.job.RemotePath, "/")
	if remoteRoot == "" {
		remoteRoot = "/"
	}
	localRoot := filepath.Join(s.job.LocalPath, path.Base(remoteRoot))

	type item struct {
		remote string
		local  string
	}
	queue := []item{{remote: remoteRoot, local: localRoot}}
	visited := make(map[string]bool)

	var entries []FileEntry
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		key := cur.remote
		if real, err := rfs.RealPath(cur.remote); err == nil {
			key = real
		}
		if visited[key] {
			continue
		}
		visited[key] = true

		infos, err := rfs.ReadDir(cur.remote)
		if err != nil {
			return nil, fmt.Errorf("list remote directory '%s' failed: %w", cur.remote, err)
		}
		for _, info := range infos {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			name := info.Name()
			if name == "." || name == ".." {
				continue
			}
			remotePath := path.Join(cur.remote, name)
			localPath := filepath.Join(cur.local, name)
			switch {
			case info.IsDir():
				queue = append(queue, item{remote: remotePath, local: localPath})
			case info.Mode().IsRegular():
				entries = append(entries, FileEntry{
					SourcePath: remotePath,
					TargetPath: localPath,
					Filename:   name,
					Size:       info.Size(),
				})
			}
		}
	}
	return entries, nil
}
