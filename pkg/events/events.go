package events

import (
	"log/slog"
	"time"

	"github.com/wentf9/sftpq/pkg/models"
)

// EventType 事件类型
type EventType string

const (
	EventJobAdded               EventType = "job_added"
	EventJobUpdated             EventType = "job_updated"
	EventJobRemoved             EventType = "job_removed"
	EventProcessingStateChanged EventType = "processing_state_changed"
	EventLogMessage             EventType = "log_message"
)

// Event 所有事件的公共接口
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent 公共字段
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// JobAddedEvent 新任务进入队列
type JobAddedEvent struct {
	BaseEvent
	Job models.TransferJob
}

// JobUpdatedEvent 任务状态或进度变化
// ProgressOnly 为 true 时只有进度变化，订阅方缓冲满时可以丢弃
type JobUpdatedEvent struct {
	BaseEvent
	Job          models.TransferJob
	ProgressOnly bool
}

// JobRemovedEvent 任务被移出队列
type JobRemovedEvent struct {
	BaseEvent
	JobID int64
}

// ProcessingStateChangedEvent 队列是否在处理任务
type ProcessingStateChangedEvent struct {
	BaseEvent
	Active bool
}

// LogMessageEvent 面向用户的日志消息
type LogMessageEvent struct {
	BaseEvent
	Level   slog.Level
	Message string
}

func NewJobAdded(job models.TransferJob) *JobAddedEvent {
	return &JobAddedEvent{BaseEvent: base(EventJobAdded), Job: job}
}

func NewJobUpdated(job models.TransferJob, progressOnly bool) *JobUpdatedEvent {
	return &JobUpdatedEvent{BaseEvent: base(EventJobUpdated), Job: job, ProgressOnly: progressOnly}
}

func NewJobRemoved(id int64) *JobRemovedEvent {
	return &JobRemovedEvent{BaseEvent: base(EventJobRemoved), JobID: id}
}

func NewProcessingStateChanged(active bool) *ProcessingStateChangedEvent {
	return &ProcessingStateChangedEvent{BaseEvent: base(EventProcessingStateChanged), Active: active}
}

func NewLogMessage(level slog.Level, msg string) *LogMessageEvent {
	return &LogMessageEvent{BaseEvent: base(EventLogMessage), Level: level, Message: msg}
}

// droppable 只有纯进度更新可以在缓冲满时丢弃
func droppable(e Event) bool {
	u, ok := e.(*JobUpdatedEvent)
	return ok && u.ProgressOnly
}
