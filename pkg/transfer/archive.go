package transfer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ctxReader 每次 Read 前检查取消
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// createArchive 把文件或目录打包成 zip，返回归档大小
// 目录内的条目使用相对路径，单个文件使用文件名
func createArchive(ctx context.Context, source, dest string) (int64, error) {
	info, err := os.Stat(source)
	if err != nil {
		return 0, fmt.Errorf("stat archive source failed: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create archive failed: %w", err)
	}
	zw := zip.NewWriter(out)

	if info.IsDir() {
		err = filepath.WalkDir(source, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if p == source {
				return nil
			}
			rel, err := filepath.Rel(source, p)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			if d.IsDir() {
				_, err := zw.Create(name + "/")
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			return addArchiveFile(ctx, zw, p, name)
		})
	} else {
		err = addArchiveFile(ctx, zw, source, filepath.Base(source))
	}

	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}

	st, err := os.Stat(dest)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func addArchiveFile(ctx context.Context, zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, &ctxReader{ctx: ctx, r: f})
	return err
}

// extractArchive 解压到 destDir，跳过会逃逸出目标目录的条目
func extractArchive(ctx context.Context, archive, destDir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open archive failed: %w", err)
	}
	defer zr.Close()

	root := filepath.Clean(destDir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create extraction directory failed: %w", err)
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(name) {
			continue
		}
		target := filepath.Join(root, name)
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(ctx, f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(ctx context.Context, f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: rc}); err != nil {
		out.Close()
		return fmt.Errorf("extract %s failed: %w", f.Name, err)
	}
	return out.Close()
}

// archiveBaseName 去掉 .zip 以及其它所有扩展名: data.tar.zip -> data
func archiveBaseName(archive string) string {
	name := filepath.Base(archive)
	for {
		ext := filepath.Ext(name)
		if ext == "" || ext == name {
			return name
		}
		name = strings.TrimSuffix(name, ext)
	}
}

// resolveExtractionDir 默认解压目录: <归档所在目录>/<去扩展名>_<任务ID>
// 已存在时追加 _2, _3 ...
func resolveExtractionDir(archive string, jobID int64) string {
	dir := filepath.Dir(archive)
	base := archiveBaseName(archive) + "_" + strconv.FormatInt(jobID, 10)
	candidate := filepath.Join(dir, base)
	for n := 2; ; n++ {
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, base+"_"+strconv.Itoa(n))
	}
}

// isArchive 按扩展名判断，大小写不敏感
func isArchive(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zip")
}
