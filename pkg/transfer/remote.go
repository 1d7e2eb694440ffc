package transfer

import (
	"context"
	"os"
)

// ProgressFunc 传输进度回调，done 为累计字节数
// 返回非 nil 错误时立即中止传输，可能被并发调用
type ProgressFunc = func(done, total int64) error

// RemoteFS 远程文件操作，每个执行器独占一个
type RemoteFS interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string) error
	Remove(path string) error
	RemoveDirectory(path string) error
	RealPath(path string) (string, error)
	Put(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error
	Get(ctx context.Context, remotePath, localPath string, progress ProgressFunc) error
	Close() error
}

// Session 一个已认证的远程连接，可以在上面打开多个独立的通道
type Session interface {
	OpenFS(ctx context.Context) (RemoteFS, error)
}

// SessionProvider 提供当前可用的会话，没有时返回 nil
type SessionProvider interface {
	Current() Session
}

// SessionProviderFunc 允许普通函数作为 SessionProvider
type SessionProviderFunc func() Session

func (f SessionProviderFunc) Current() Session { return f() }
