package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition 表示不允许的状态迁移
var ErrInvalidTransition = errors.New("invalid status transition")

// Direction 传输方向
type Direction string

const (
	Upload   Direction = "UPLOAD"
	Download Direction = "DOWNLOAD"
)

func (d Direction) Valid() bool {
	return d == Upload || d == Download
}

// JobStatus 任务状态，取值封闭
type JobStatus string

const (
	StatusQueued           JobStatus = "QUEUED"
	StatusScanning         JobStatus = "SCANNING"
	StatusPendingResources JobStatus = "PENDING_RESOURCES"
	StatusZipping          JobStatus = "ZIPPING"
	StatusInProgress       JobStatus = "IN_PROGRESS"
	StatusUnzipping        JobStatus = "UNZIPPING"
	StatusCompleted        JobStatus = "COMPLETED"
	StatusFailed           JobStatus = "FAILED"
	StatusCancelled        JobStatus = "CANCELLED"
)

// AllStatuses 按生命周期顺序列出全部状态
var AllStatuses = []JobStatus{
	StatusQueued,
	StatusScanning,
	StatusPendingResources,
	StatusZipping,
	StatusInProgress,
	StatusUnzipping,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// transitions 允许的状态迁移表，终态没有出边
var transitions = map[JobStatus][]JobStatus{
	StatusQueued:           {StatusPendingResources, StatusInProgress, StatusCancelled, StatusFailed},
	StatusScanning:         {StatusCompleted, StatusFailed, StatusCancelled},
	StatusPendingResources: {StatusZipping, StatusInProgress, StatusFailed, StatusCancelled},
	StatusInProgress:       {StatusZipping, StatusUnzipping, StatusCompleted, StatusFailed, StatusCancelled},
	StatusZipping:          {StatusInProgress, StatusFailed, StatusCancelled},
	StatusUnzipping:        {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
}

func (s JobStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal 终态: 完成、失败、取消
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanRetry 只有失败或取消的任务可以重试
func (s JobStatus) CanRetry() bool {
	return s == StatusFailed || s == StatusCancelled
}

// ValidateTransition 校验一次普通的状态迁移，相同状态视为无操作
func ValidateTransition(from, to JobStatus) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("%w: unknown status %q -> %q", ErrInvalidTransition, from, to)
	}
	if from == to {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateRetry 校验重试: 只能从失败/取消回到 QUEUED 或 SCANNING
func ValidateRetry(from, to JobStatus) error {
	if !from.CanRetry() {
		return fmt.Errorf("%w: cannot retry from %s", ErrInvalidTransition, from)
	}
	if to != StatusQueued && to != StatusScanning {
		return fmt.Errorf("%w: retry must re-enter QUEUED or SCANNING, got %s", ErrInvalidTransition, to)
	}
	return nil
}
