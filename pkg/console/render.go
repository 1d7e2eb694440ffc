package console

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/wentf9/sftpq/pkg/events"
	"github.com/wentf9/sftpq/pkg/models"
)

type RendererOptions struct {
	// 显示所有文件任务的总进度条
	Progress bool
	// 低于该级别的日志消息不显示
	MinLevel slog.Level
}

// Renderer 把队列事件输出到终端: 日志消息逐行打印，文件进度汇总到一个进度条
type Renderer struct {
	bus  *events.EventBus
	sub  <-chan events.Event
	out  io.Writer
	opts RendererOptions
	done chan struct{}

	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	totals map[int64][2]int64 // id -> {done, total}，只统计文件任务
}

func NewRenderer(bus *events.EventBus, out io.Writer, opts RendererOptions) *Renderer {
	r := &Renderer{
		bus:    bus,
		sub:    bus.SubscribeAll(),
		out:    out,
		opts:   opts,
		done:   make(chan struct{}),
		totals: make(map[int64][2]int64),
	}
	if opts.Progress {
		r.bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetWriter(out),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetDescription("Transferring"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	go r.loop()
	return r
}

func (r *Renderer) loop() {
	defer close(r.done)
	for ev := range r.sub {
		switch e := ev.(type) {
		case *events.LogMessageEvent:
			r.logLine(e)
		case *events.JobAddedEvent:
			r.track(e.Job)
		case *events.JobUpdatedEvent:
			r.track(e.Job)
		case *events.JobRemovedEvent:
			r.mu.Lock()
			delete(r.totals, e.JobID)
			r.refreshLocked()
			r.mu.Unlock()
		}
	}
}

func (r *Renderer) logLine(e *events.LogMessageEvent) {
	if e.Level < r.opts.MinLevel {
		return
	}
	var tag string
	switch {
	case e.Level >= slog.LevelError:
		tag = red("ERROR")
	case e.Level >= slog.LevelWarn:
		tag = yellow("WARN ")
	default:
		tag = green("INFO ")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		// 先清掉进度条所在的行
		r.bar.Clear()
	}
	fmt.Fprintf(r.out, "%s %s %s\n", faint(e.Timestamp().Format("15:04:05")), tag, e.Message)
}

func (r *Renderer) track(job models.TransferJob) {
	if job.IsScanJob() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	done := job.BytesTransferred
	if job.Status == models.StatusCompleted {
		done = max(done, job.TotalSize)
	}
	r.totals[job.ID] = [2]int64{done, job.TotalSize}
	r.refreshLocked()
}

func (r *Renderer) refreshLocked() {
	if r.bar == nil {
		return
	}
	var done, total int64
	for _, v := range r.totals {
		done += v[0]
		total += v[1]
	}
	if total <= 0 {
		return
	}
	r.bar.ChangeMax64(total)
	_ = r.bar.Set64(done)
}

// Totals 返回已传输和总字节数
func (r *Renderer) Totals() (done, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.totals {
		done += v[0]
		total += v[1]
	}
	return done, total
}

// Close 取消订阅并等待剩余事件输出完
func (r *Renderer) Close() {
	r.bus.Unsubscribe(r.sub)
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}
