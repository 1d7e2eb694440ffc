// Package control 通过 MCP 协议暴露传输队列，供外部程序或助手驱动
package control

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/transfer"
)

// Queue 控制面用到的队列操作，由 *transfer.Manager 实现
type Queue interface {
	Enqueue(req transfer.EnqueueRequest) (int64, error)
	Start()
	Stop()
	Running() bool
	MaxConcurrent() int
	SetMaxConcurrent(n int)
	Remove(ids ...int64) int
	Retry(ids ...int64) int
	ClearCompleted() int
	CancelActive() int
	CancelScans() int
	Jobs() []models.TransferJob
	Stats() transfer.Stats
}

// StatFunc 查询远程路径，下载前用来判断是否为目录
type StatFunc func(path string) (os.FileInfo, error)

var errNoRemote = errors.New("remote session is not available")

// Server 把队列操作注册为 MCP 工具
type Server struct {
	queue  Queue
	stat   StatFunc
	server *mcp.Server
}

func NewServer(queue Queue, stat StatFunc, version string) *Server {
	s := &Server{
		queue:  queue,
		stat:   stat,
		server: mcp.NewServer(&mcp.Implementation{Name: "sftpq", Version: version}, nil),
	}
	s.register()
	return s
}

// MCP 返回底层服务，测试时用来连接内存传输
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run 在标准输入输出上提供服务，直到客户端断开或 ctx 取消
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

type UploadInput struct {
	LocalPath string `json:"local_path" jsonschema:"local file or directory to upload"`
	RemoteDir string `json:"remote_dir" jsonschema:"remote directory that receives the upload"`
	Zip       bool   `json:"zip,omitempty" jsonschema:"pack a directory into a single zip archive before uploading"`
}

type DownloadInput struct {
	RemotePath string `json:"remote_path" jsonschema:"remote file or directory to download"`
	LocalDir   string `json:"local_dir" jsonschema:"local directory that receives the download"`
	Unzip      bool   `json:"unzip,omitempty" jsonschema:"extract a downloaded zip archive"`
	ExtractTo  string `json:"extract_to,omitempty" jsonschema:"extraction directory, generated next to the archive when empty"`
}

type EnqueueOutput struct {
	JobID       int64 `json:"job_id"`
	IsDirectory bool  `json:"is_directory"`
}

type ListInput struct {
	Status string `json:"status,omitempty" jsonschema:"only return jobs in this status, e.g. QUEUED or FAILED"`
	Parent int64  `json:"parent,omitempty" jsonschema:"only return files expanded from this directory job"`
}

// JobView 任务快照，时间用 RFC3339 字符串
type JobView struct {
	ID               int64  `json:"id"`
	ParentID         int64  `json:"parent_id,omitempty"`
	Direction        string `json:"direction"`
	IsDirectory      bool   `json:"is_directory"`
	Filename         string `json:"filename"`
	LocalPath        string `json:"local_path"`
	RemotePath       string `json:"remote_path"`
	Status           string `json:"status"`
	TotalSize        int64  `json:"total_size"`
	BytesTransferred int64  `json:"bytes_transferred"`
	ProgressPercent  int    `json:"progress_percent"`
	Error            string `json:"error,omitempty"`
	Message          string `json:"message,omitempty"`
	UpdatedAt        string `json:"updated_at"`
}

type ListOutput struct {
	Jobs []JobView `json:"jobs"`
}

type StatsOutput struct {
	Running       bool           `json:"running"`
	MaxConcurrent int            `json:"max_concurrent"`
	Total         int            `json:"total"`
	Pending       int            `json:"pending"`
	Active        int            `json:"active"`
	Scanning      int            `json:"scanning"`
	ByStatus      map[string]int `json:"by_status"`
}

type IDsInput struct {
	IDs []int64 `json:"ids" jsonschema:"job IDs"`
}

type LimitInput struct {
	Limit int `json:"limit" jsonschema:"maximum number of concurrent transfers, clamped to 1..64"`
}

type CountOutput struct {
	Count int `json:"count"`
}

type Empty struct{}

func (s *Server) register() {
	mcp.AddTool(s.server, &mcp.Tool{Name: "enqueue_upload", Description: "Queue a local file or directory for upload"}, s.enqueueUpload)
	mcp.AddTool(s.server, &mcp.Tool{Name: "enqueue_download", Description: "Queue a remote file or directory for download"}, s.enqueueDownload)
	mcp.AddTool(s.server, &mcp.Tool{Name: "list_jobs", Description: "List transfer jobs in creation order"}, s.listJobs)
	mcp.AddTool(s.server, &mcp.Tool{Name: "queue_stats", Description: "Summarize the queue state"}, s.stats)
	mcp.AddTool(s.server, &mcp.Tool{Name: "start", Description: "Start dispatching queued jobs"}, s.start)
	mcp.AddTool(s.server, &mcp.Tool{Name: "stop", Description: "Stop dispatching; running transfers continue"}, s.stop)
	mcp.AddTool(s.server, &mcp.Tool{Name: "set_max_concurrent", Description: "Change the concurrent transfer limit"}, s.setLimit)
	mcp.AddTool(s.server, &mcp.Tool{Name: "cancel_active", Description: "Cancel all running transfers"}, s.count(s.queue.CancelActive))
	mcp.AddTool(s.server, &mcp.Tool{Name: "cancel_scans", Description: "Cancel all directory scans"}, s.count(s.queue.CancelScans))
	mcp.AddTool(s.server, &mcp.Tool{Name: "clear_completed", Description: "Remove completed jobs from the queue"}, s.count(s.queue.ClearCompleted))
	mcp.AddTool(s.server, &mcp.Tool{Name: "retry", Description: "Requeue failed or cancelled jobs"}, s.byIDs(s.queue.Retry))
	mcp.AddTool(s.server, &mcp.Tool{Name: "remove", Description: "Remove jobs, cancelling them first when running"}, s.byIDs(s.queue.Remove))
}

func (s *Server) enqueueUpload(_ context.Context, _ *mcp.CallToolRequest, in UploadInput) (*mcp.CallToolResult, EnqueueOutput, error) {
	local, err := filepath.Abs(in.LocalPath)
	if err != nil {
		return nil, EnqueueOutput{}, err
	}
	info, err := os.Stat(local)
	if err != nil {
		return nil, EnqueueOutput{}, err
	}
	id, err := s.queue.Enqueue(transfer.EnqueueRequest{
		SourcePath:  local,
		TargetPath:  in.RemoteDir,
		Direction:   models.Upload,
		IsDirectory: info.IsDir(),
		ZipUpload:   in.Zip && info.IsDir(),
	})
	if err != nil {
		return nil, EnqueueOutput{}, err
	}
	return nil, EnqueueOutput{JobID: id, IsDirectory: info.IsDir()}, nil
}

func (s *Server) enqueueDownload(_ context.Context, _ *mcp.CallToolRequest, in DownloadInput) (*mcp.CallToolResult, EnqueueOutput, error) {
	if s.stat == nil {
		return nil, EnqueueOutput{}, errNoRemote
	}
	info, err := s.stat(in.RemotePath)
	if err != nil {
		return nil, EnqueueOutput{}, fmt.Errorf("stat %s: %w", in.RemotePath, err)
	}
	local, err := filepath.Abs(in.LocalDir)
	if err != nil {
		return nil, EnqueueOutput{}, err
	}
	id, err := s.queue.Enqueue(transfer.EnqueueRequest{
		SourcePath:     in.RemotePath,
		TargetPath:     local,
		Direction:      models.Download,
		IsDirectory:    info.IsDir(),
		UnzipDownload:  in.Unzip && !info.IsDir(),
		ExtractionPath: in.ExtractTo,
	})
	if err != nil {
		return nil, EnqueueOutput{}, err
	}
	return nil, EnqueueOutput{JobID: id, IsDirectory: info.IsDir()}, nil
}

func (s *Server) listJobs(_ context.Context, _ *mcp.CallToolRequest, in ListInput) (*mcp.CallToolResult, ListOutput, error) {
	out := ListOutput{Jobs: []JobView{}}
	for _, j := range s.queue.Jobs() {
		if in.Status != "" && string(j.Status) != in.Status {
			continue
		}
		if in.Parent != 0 && j.ParentID != in.Parent {
			continue
		}
		out.Jobs = append(out.Jobs, viewOf(j))
	}
	return nil, out, nil
}

func viewOf(j models.TransferJob) JobView {
	return JobView{
		ID:               j.ID,
		ParentID:         j.ParentID,
		Direction:        string(j.Direction),
		IsDirectory:      j.IsDirectory,
		Filename:         j.Filename,
		LocalPath:        j.LocalPath,
		RemotePath:       j.RemotePath,
		Status:           string(j.Status),
		TotalSize:        j.TotalSize,
		BytesTransferred: j.BytesTransferred,
		ProgressPercent:  j.ProgressPercent,
		Error:            j.ErrorMessage,
		Message:          j.Message,
		UpdatedAt:        j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) stats(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, StatsOutput, error) {
	return nil, s.snapshot(), nil
}

func (s *Server) snapshot() StatsOutput {
	st := s.queue.Stats()
	out := StatsOutput{
		Running:       s.queue.Running(),
		MaxConcurrent: s.queue.MaxConcurrent(),
		Total:         st.Total,
		Pending:       st.Pending(),
		Active:        st.Active,
		Scanning:      st.Scanning,
		ByStatus:      make(map[string]int, len(st.ByStatus)),
	}
	for status, n := range st.ByStatus {
		out.ByStatus[string(status)] = n
	}
	return out
}

func (s *Server) start(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, StatsOutput, error) {
	s.queue.Start()
	return nil, s.snapshot(), nil
}

func (s *Server) stop(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, StatsOutput, error) {
	s.queue.Stop()
	return nil, s.snapshot(), nil
}

func (s *Server) setLimit(_ context.Context, _ *mcp.CallToolRequest, in LimitInput) (*mcp.CallToolResult, StatsOutput, error) {
	s.queue.SetMaxConcurrent(in.Limit)
	return nil, s.snapshot(), nil
}

func (s *Server) count(fn func() int) mcp.ToolHandlerFor[Empty, CountOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ Empty) (*mcp.CallToolResult, CountOutput, error) {
		return nil, CountOutput{Count: fn()}, nil
	}
}

func (s *Server) byIDs(fn func(ids ...int64) int) mcp.ToolHandlerFor[IDsInput, CountOutput] {
	return func(_ context.Context, _ *mcp.CallToolRequest, in IDsInput) (*mcp.CallToolResult, CountOutput, error) {
		if len(in.IDs) == 0 {
			return nil, CountOutput{}, errors.New("at least one job ID is required")
		}
		return nil, CountOutput{Count: fn(in.IDs...)}, nil
	}
}
