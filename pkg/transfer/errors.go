package transfer

import (
	"context"
	"errors"
)

var (
	// ErrInvalidInput enqueue 参数不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoSession 当前没有可用的会话
	ErrNoSession = errors.New("no active session")
	// ErrJobNotFound 队列中不存在该任务
	ErrJobNotFound = errors.New("job not found")
	// errExecutorPanic 执行器异常退出
	errExecutorPanic = errors.New("executor panicked")
)

// isCancellation 判断错误是否由取消引起，取消不能被记为失败
func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	return ctx != nil && ctx.Err() != nil
}
