package models

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ArchiveSuffix 打包上传时追加的后缀
const ArchiveSuffix = ".zip"

// TransferJob 一次传输请求: 单个文件，或者整个目录
type TransferJob struct {
	ID        int64     `json:"id"`
	ParentID  int64     `json:"parent_id,omitempty"` // 由哪个目录任务扫描产生
	Direction Direction `json:"direction"`

	// 整个目录的元任务，扫描展开或者整体打包
	IsDirectory bool `json:"is_directory"`

	// 调用方给出的逻辑路径
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`

	// 实际用于 put/get 的路径
	EffectiveLocalPath  string `json:"effective_local_path"`
	EffectiveRemotePath string `json:"effective_remote_path"`

	Filename string `json:"filename"`

	TotalSize        int64 `json:"total_size"`
	BytesTransferred int64 `json:"bytes_transferred"`
	ProgressPercent  int   `json:"progress_percent"`

	Status       JobStatus `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Message      string    `json:"message,omitempty"`

	ZipUpload           bool   `json:"zip_upload"`
	UnzipDownload       bool   `json:"unzip_download"`
	OriginalSourcePath  string `json:"original_source_path,omitempty"`
	FinalExtractionPath string `json:"final_extraction_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone 返回任务快照，事件里只传快照
func (j *TransferJob) Clone() TransferJob {
	return *j
}

// Dispatchable 只有排队中的文件任务，或整体打包的目录任务可以被派发
func (j *TransferJob) Dispatchable() bool {
	if j.Status != StatusQueued {
		return false
	}
	return !j.IsDirectory || j.ZipUpload
}

// IsScanJob 需要扫描展开的目录元任务
func (j *TransferJob) IsScanJob() bool {
	return j.IsDirectory && !j.ZipUpload
}

// Validate 检查派发前必须具备的路径
func (j *TransferJob) Validate() error {
	if !j.Direction.Valid() {
		return fmt.Errorf("job %d: invalid direction %q", j.ID, j.Direction)
	}
	switch j.Direction {
	case Upload:
		if j.EffectiveRemotePath == "" {
			return fmt.Errorf("job %d: upload has no effective remote path", j.ID)
		}
		if j.ZipUpload && j.OriginalSourcePath == "" {
			return fmt.Errorf("job %d: zip upload has no source to archive", j.ID)
		}
		if !j.ZipUpload && j.EffectiveLocalPath == "" && !j.IsDirectory {
			return fmt.Errorf("job %d: upload has no effective local path", j.ID)
		}
	case Download:
		if j.EffectiveLocalPath == "" {
			return fmt.Errorf("job %d: download has no effective local path", j.ID)
		}
		if j.EffectiveRemotePath == "" && !j.IsDirectory {
			return fmt.Errorf("job %d: download has no effective remote path", j.ID)
		}
	}
	return nil
}

// Transition 按状态机迁移
func (j *TransferJob) Transition(to JobStatus) error {
	if err := ValidateTransition(j.Status, to); err != nil {
		return fmt.Errorf("job %d: %w", j.ID, err)
	}
	j.Status = to
	j.UpdatedAt = time.Now()
	return nil
}

// Reopen 重试时重新进入初始状态，清除进度和错误
func (j *TransferJob) Reopen(to JobStatus) error {
	if err := ValidateRetry(j.Status, to); err != nil {
		return fmt.Errorf("job %d: %w", j.ID, err)
	}
	j.Status = to
	j.ErrorMessage = ""
	j.Message = ""
	j.BytesTransferred = 0
	j.ProgressPercent = 0
	if j.Direction == Download || j.ZipUpload {
		j.TotalSize = 0
	}
	j.UpdatedAt = time.Now()
	return nil
}

// ApplyProgress 更新进度，终态之前字节数不回退
// 返回进度百分比是否发生变化
func (j *TransferJob) ApplyProgress(done, total int64) bool {
	if j.TotalSize == 0 && total > 0 {
		j.TotalSize = total
	}
	if done > j.BytesTransferred {
		j.BytesTransferred = done
	}
	before := j.ProgressPercent
	j.ProgressPercent = Percent(j.BytesTransferred, j.TotalSize)
	j.UpdatedAt = time.Now()
	return before != j.ProgressPercent
}

// Percent 计算百分比，总大小未知时为 0，完成时由调用方置为 100
func Percent(done, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(done * 100 / total)
	return min(p, 100)
}

// IDGenerator 单调递增的任务 ID
type IDGenerator struct {
	last atomic.Int64
}

func (g *IDGenerator) Next() int64 {
	return g.last.Add(1)
}
