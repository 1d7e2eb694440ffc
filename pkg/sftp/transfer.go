package sftp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Put 上传单个文件到 remotePath，远程父目录需要已经存在
func (c *Client) Put(ctx context.Context, localPath, remotePath string, progress ProgressCallback) error {
	srcFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file failed: %w", err)
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat local file failed: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("'%s' is a directory", localPath)
	}

	dstFile, err := c.sftpClient.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("create remote file failed: %w", err)
	}
	defer dstFile.Close()

	if err := c.sftpClient.Chmod(remotePath, info.Mode().Perm()); err != nil {
		c.logger().Warn("设置远程文件权限失败", "path", remotePath, "err", err)
	}

	size := info.Size()
	tracker := newTracker(size, progress)
	if c.config.ThreadsPerFile <= 1 || size < c.config.ChunkSize {
		return c.streamTransfer(ctx, srcFile, dstFile, tracker)
	}
	return c.chunkedTransfer(ctx, srcFile, dstFile, size, tracker)
}

// Get 下载单个文件到 localPath，本地父目录需要已经存在
func (c *Client) Get(ctx context.Context, remotePath, localPath string, progress ProgressCallback) error {
	srcFile, err := c.sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote file failed: %w", err)
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat remote file failed: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("'%s' is a directory", remotePath)
	}

	dstFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file failed: %w", err)
	}
	defer dstFile.Close()

	if err := os.Chmod(localPath, info.Mode().Perm()); err != nil {
		c.logger().Warn("设置本地文件权限失败", "path", localPath, "err", err)
	}

	size := info.Size()
	tracker := newTracker(size, progress)
	if c.config.ThreadsPerFile <= 1 || size < c.config.ChunkSize {
		return c.streamTransfer(ctx, srcFile, dstFile, tracker)
	}
	return c.chunkedTransfer(ctx, srcFile, dstFile, size, tracker)
}

// tracker 把各个分块的增量汇总成累计字节数
type tracker struct {
	total    int64
	done     atomic.Int64
	progress ProgressCallback
}

func newTracker(total int64, progress ProgressCallback) *tracker {
	return &tracker{total: total, progress: progress}
}

func (t *tracker) add(n int) error {
	done := t.done.Add(int64(n))
	if t.progress == nil {
		return nil
	}
	return t.progress(done, t.total)
}

// ================== 单文件多线程分块逻辑 ==================

func (c *Client) chunkedTransfer(ctx context.Context, src io.ReaderAt, dst io.WriterAt, size int64, t *tracker) error {
	g, gctx := errgroup.WithContext(ctx)
	chunkSize := c.config.ChunkSize

	// 信号量限制并发数
	sem := make(chan struct{}, c.config.ThreadsPerFile)

loop:
	for offset := int64(0); offset < size; offset += chunkSize {
		select {
		case sem <- struct{}{}:
		case <-gctx.Done():
			break loop
		}

		g.Go(func() error {
			defer func() { <-sem }()
			if err := gctx.Err(); err != nil {
				return err
			}

			currentChunkSize := min(chunkSize, size-offset)

			// ReadAt/WriteAt 是并发安全的
			buf := make([]byte, currentChunkSize)
			n, err := src.ReadAt(buf, offset)
			if err != nil && err != io.EOF {
				return fmt.Errorf("read at %d failed: %w", offset, err)
			}
			if n == 0 {
				return nil
			}

			// 注意 buf[:n] 避免 EOF 导致的 buffer 未填满问题
			if _, err := dst.WriteAt(buf[:n], offset); err != nil {
				return fmt.Errorf("write at %d failed: %w", offset, err)
			}
			return t.add(n)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// 简单的流式传输兜底
func (c *Client) streamTransfer(ctx context.Context, r io.Reader, w io.Writer, t *tracker) error {
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, wErr := w.Write(buf[:n]); wErr != nil {
				return wErr
			}
			if pErr := t.add(n); pErr != nil {
				return pErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
