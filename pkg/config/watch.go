package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch 监听配置文件变化，重新加载成功后调用 onChange
// 监听所在目录而不是文件本身，编辑器保存时常常是替换文件
func Watch(ctx context.Context, store Store, path string, onChange func(*Configuration), log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}
	if log == nil {
		log = slog.Default()
	}

	go func() {
		defer w.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// 合并短时间内的多次写入
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				cfg, err := store.Load()
				if err != nil {
					log.Warn("Config reload failed", "path", path, "err", err)
					continue
				}
				log.Info("Config reloaded", "path", path)
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("Config watcher error", "err", err)
			}
		}
	}()
	return nil
}
