package runner

import (
	"context"

	"github.com/wentf9/sftpq/pkg/utils"
)

// TaskFunc 对一个目标执行的任务
type TaskFunc[T, R any] func(ctx context.Context, target T) (R, error)

type Result[T, R any] struct {
	Target T
	Value  R
	Error  error
}

// RunParallel 并发地对每个目标执行 task，结果按完成顺序返回
// ctx 取消后尚未开始的任务直接返回 ctx.Err()
func RunParallel[T, R any](ctx context.Context, targets []T, concurrency uint, task TaskFunc[T, R]) <-chan Result[T, R] {
	wp := utils.NewWorkerPool(concurrency)
	// 缓冲区大小设为目标数量，防止阻塞 worker
	results := make(chan Result[T, R], len(targets))
	go func() {
		for _, target := range targets {
			wp.Execute(func() {
				if err := ctx.Err(); err != nil {
					results <- Result[T, R]{Target: target, Error: err}
					return
				}
				v, err := task(ctx, target)
				results <- Result[T, R]{Target: target, Value: v, Error: err}
			})
		}
		wp.Wait()
		close(results)
	}()
	return results
}
