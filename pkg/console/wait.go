package console

import (
	"context"
	"time"
)

// WaitIdle 等待队列处理完所有任务，或者队列被停止且没有执行中的任务
func WaitIdle(ctx context.Context, q Queue, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		st := q.Stats()
		if st.Active == 0 && (st.Pending() == 0 || !q.Running()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
