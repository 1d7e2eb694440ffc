package transfer

import (
	"log/slog"
	"time"

	"github.com/wentf9/sftpq/pkg/utils"
)

const (
	DefaultMaxConcurrent     = 3
	DefaultDispatchInterval  = 750 * time.Millisecond
	DefaultMaxSessionRetries = 5
	// MaxConcurrencyCeiling 并发上限，也是工作池的容量
	MaxConcurrencyCeiling = 64
)

// Config 队列配置
type Config struct {
	MaxConcurrent     int
	DispatchInterval  time.Duration
	MaxSessionRetries int
	// 打包上传使用的临时目录，为空时使用系统默认
	TempDir string
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     DefaultMaxConcurrent,
		DispatchInterval:  DefaultDispatchInterval,
		MaxSessionRetries: DefaultMaxSessionRetries,
	}
}

func (c Config) normalized() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	c.MaxConcurrent = min(c.MaxConcurrent, MaxConcurrencyCeiling)
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = DefaultDispatchInterval
	}
	if c.MaxSessionRetries <= 0 {
		c.MaxSessionRetries = DefaultMaxSessionRetries
	}
	return c
}

// Option 定义配置函数的类型
type Option func(*Manager)

func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.cfg = cfg.normalized()
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithWorkerPool 替换执行器使用的工作池
func WithWorkerPool(pool utils.WorkerPool) Option {
	return func(m *Manager) {
		if pool != nil {
			m.pool = pool
		}
	}
}
