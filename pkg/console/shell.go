package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/transfer"
)

// Queue 交互命令用到的队列操作，由 *transfer.Manager 实现
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

// Remote 浏览远程目录，由 *sftp.Client 实现
type Remote interface {
	Cwd() (string, error)
	JoinPath(elem ...string) string
	ReadDir(path string) ([]os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
}

var errNoRemote = errors.New("no remote session")

// Shell 交互式队列控制台
type Shell struct {
	queue  Queue
	remote Remote
	cwd    string    // 远程当前目录
	stdin  io.Reader // 输入源
	stdout io.Writer // 输出源
	stderr io.Writer // 错误输出源

	reconnect func() (Remote, error)
}

// NewShell 创建一个新的交互式 Shell，remote 可以为 nil，此时远程浏览命令不可用
func NewShell(queue Queue, remote Remote, stdin io.Reader, stdout, stderr io.Writer) *Shell {
	cwd := "."
	if remote != nil {
		if wd, err := remote.Cwd(); err == nil {
			cwd = wd
		}
	}
	return &Shell{
		queue:  queue,
		remote: remote,
		cwd:    cwd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
}

// SetRemote 会话重连后替换远程浏览端，保留当前目录
func (s *Shell) SetRemote(remote Remote) {
	s.remote = remote
}

// SetCwd 设置远程当前目录，相对路径基于当前目录
func (s *Shell) SetCwd(dir string) {
	s.cwd = s.resolvePath(dir)
}

// SetReconnect 设置 reconnect 命令的实现，返回新会话上的远程浏览端
func (s *Shell) SetReconnect(fn func() (Remote, error)) {
	s.reconnect = fn
}

// Run 启动交互式循环 (REPL)
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.stdin)
	s.printPrompt()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			s.printPrompt()
			continue
		}

		if quit := s.Exec(line); quit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.printPrompt()
	}
	return scanner.Err()
}

// Exec 执行一行命令，返回是否退出
func (s *Shell) Exec(line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	cmd, params := args[0], args[1:]

	switch cmd {
	case "exit", "quit", "bye":
		return true
	case "help", "?":
		s.printHelp()
	case "put":
		s.handlePut(params)
	case "get":
		s.handleGet(params)
	case "jobs", "ls-jobs":
		s.handleJobs(params)
	case "status":
		s.handleStatus()
	case "start":
		s.queue.Start()
	case "stop":
		s.queue.Stop()
	case "limit":
		s.handleLimit(params)
	case "cancel":
		fmt.Fprintf(s.stdout, "已取消 %d 个传输\n", s.queue.CancelActive())
	case "scans-cancel":
		fmt.Fprintf(s.stdout, "已取消 %d 个扫描\n", s.queue.CancelScans())
	case "rm":
		s.withIDs("rm", params, func(ids []int64) {
			fmt.Fprintf(s.stdout, "已移除 %d 个任务\n", s.queue.Remove(ids...))
		})
	case "retry":
		s.withIDs("retry", params, func(ids []int64) {
			fmt.Fprintf(s.stdout, "已重新排队 %d 个任务\n", s.queue.Retry(ids...))
		})
	case "clear":
		fmt.Fprintf(s.stdout, "已清除 %d 个已完成任务\n", s.queue.ClearCompleted())
	case "reconnect":
		s.handleReconnect()
	case "pwd":
		fmt.Fprintln(s.stdout, s.cwd)
	case "lpwd":
		wd, _ := os.Getwd()
		fmt.Fprintln(s.stdout, wd)
	case "ls", "ll":
		s.handleLs(params)
	case "lls":
		s.handleLocalLs(params)
	case "cd":
		s.handleCd(params)
	case "lcd":
		s.handleLocalCd(params)
	default:
		fmt.Fprintf(s.stderr, "未知命令: %s (输入 help 查看可用命令)\n", cmd)
	}
	return false
}

// ================= 命令处理逻辑 =================

func (s *Shell) printPrompt() {
	state := "stopped"
	if s.queue.Running() {
		state = "running"
	}
	fmt.Fprintf(s.stdout, "sftpq[%s]:%s> ", state, s.cwd)
}

func (s *Shell) resolvePath(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	if s.remote != nil {
		return s.remote.JoinPath(s.cwd, p)
	}
	return path.Join(s.cwd, p)
}

// splitFlags 拆出以 - 开头的单字母开关
func splitFlags(args []string) (flags map[byte]bool, rest []string) {
	flags = make(map[byte]bool)
	for _, a := range args {
		if len(a) > 1 && a[0] == '-' {
			for i := 1; i < len(a); i++ {
				flags[a[i]] = true
			}
			continue
		}
		rest = append(rest, a)
	}
	return flags, rest
}

func (s *Shell) handlePut(args []string) {
	flags, args := splitFlags(args)
	if len(args) < 1 {
		fmt.Fprintln(s.stderr, "用法: put [-z] <本地文件或目录> [远程目录]")
		return
	}
	local, err := filepath.Abs(args[0])
	if err != nil {
		fmt.Fprintf(s.stderr, "put: %v\n", err)
		return
	}
	info, err := os.Stat(local)
	if err != nil {
		fmt.Fprintf(s.stderr, "put: %v\n", err)
		return
	}
	remote := s.cwd
	if len(args) > 1 {
		remote = s.resolvePath(args[1])
	}

	id, err := s.queue.Enqueue(transfer.EnqueueRequest{
		SourcePath:  local,
		TargetPath:  remote,
		Direction:   models.Upload,
		IsDirectory: info.IsDir(),
		ZipUpload:   flags['z'],
	})
	if err != nil {
		fmt.Fprintf(s.stderr, "put: %v\n", err)
		return
	}
	fmt.Fprintf(s.stdout, "上传 %s -> %s (任务 %d)\n", local, remote, id)
}

func (s *Shell) handleGet(args []string) {
	flags, args := splitFlags(args)
	if len(args) < 1 {
		fmt.Fprintln(s.stderr, "用法: get [-x] [-r] <远程文件或目录> [本地目录]")
		return
	}
	remote := s.resolvePath(args[0])
	local := "."
	if len(args) > 1 {
		local = args[1]
	}
	local, err := filepath.Abs(local)
	if err != nil {
		fmt.Fprintf(s.stderr, "get: %v\n", err)
		return
	}

	isDir := flags['r']
	if s.remote != nil {
		info, err := s.remote.Stat(remote)
		if err != nil {
			fmt.Fprintf(s.stderr, "get: %v\n", err)
			return
		}
		isDir = info.IsDir()
	}

	id, err := s.queue.Enqueue(transfer.EnqueueRequest{
		SourcePath:    remote,
		TargetPath:    local,
		Direction:     models.Download,
		IsDirectory:   isDir,
		UnzipDownload: flags['x'] && !isDir,
	})
	if err != nil {
		fmt.Fprintf(s.stderr, "get: %v\n", err)
		return
	}
	fmt.Fprintf(s.stdout, "下载 %s -> %s (任务 %d)\n", remote, local, id)
}

func (s *Shell) handleJobs(args []string) {
	flags, _ := splitFlags(args)
	w := tabwriter.NewWriter(s.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDIR\tSTATUS\tPROGRESS\tSIZE\tNAME\tINFO")
	for _, job := range s.queue.Jobs() {
		// -a 显示全部，默认隐藏已完成的任务
		if job.Status == models.StatusCompleted && !flags['a'] {
			continue
		}
		info := job.ErrorMessage
		if info == "" {
			info = job.Message
		}
		dir := "↑"
		if job.Direction == models.Download {
			dir = "↓"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d%%\t%s\t%s\t%s\n",
			job.ID, dir, statusText(job.Status), job.ProgressPercent, formatBytes(job.TotalSize), job.Filename, info)
	}
	w.Flush()
}

func (s *Shell) handleStatus() {
	st := s.queue.Stats()
	state := "stopped"
	if s.queue.Running() {
		state = "running"
	}
	fmt.Fprintf(s.stdout, "队列: %s, 并发上限 %d, 执行中 %d, 扫描中 %d\n",
		state, s.queue.MaxConcurrent(), st.Active, st.Scanning)
	fmt.Fprintf(s.stdout, "任务: 共 %d, 等待 %d, 完成 %d, 失败 %d, 取消 %d\n",
		st.Total, st.ByStatus[models.StatusQueued], st.ByStatus[models.StatusCompleted],
		st.ByStatus[models.StatusFailed], st.ByStatus[models.StatusCancelled])
}

func (s *Shell) handleReconnect() {
	if s.reconnect == nil {
		fmt.Fprintln(s.stderr, "reconnect: 不支持")
		return
	}
	remote, err := s.reconnect()
	if err != nil {
		fmt.Fprintf(s.stderr, "reconnect: %v\n", err)
		return
	}
	s.SetRemote(remote)
	fmt.Fprintln(s.stdout, "已重新连接，输入 start 继续处理队列")
}

func (s *Shell) handleLimit(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.stdout, s.queue.MaxConcurrent())
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		fmt.Fprintln(s.stderr, "用法: limit <正整数>")
		return
	}
	s.queue.SetMaxConcurrent(n)
}

func (s *Shell) withIDs(cmd string, args []string, fn func([]int64)) {
	if len(args) == 0 {
		fmt.Fprintf(s.stderr, "用法: %s <任务ID>...\n", cmd)
		return
	}
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			fmt.Fprintf(s.stderr, "%s: 无效的任务ID '%s'\n", cmd, a)
			return
		}
		ids = append(ids, id)
	}
	fn(ids)
}

func (s *Shell) handleCd(args []string) {
	if len(args) == 0 {
		return
	}
	if s.remote == nil {
		fmt.Fprintf(s.stderr, "cd: %v\n", errNoRemote)
		return
	}
	target := s.resolvePath(args[0])

	// 检查目录是否存在
	info, err := s.remote.Stat(target)
	if err != nil {
		fmt.Fprintf(s.stderr, "cd: %v\n", err)
		return
	}
	if !info.IsDir() {
		fmt.Fprintf(s.stderr, "cd: '%s' 不是目录\n", args[0])
		return
	}
	s.cwd = target
}

func (s *Shell) handleLocalCd(args []string) {
	if len(args) == 0 {
		return
	}
	if err := os.Chdir(args[0]); err != nil {
		fmt.Fprintf(s.stderr, "lcd: %v\n", err)
	}
}

func (s *Shell) handleLs(args []string) {
	if s.remote == nil {
		fmt.Fprintf(s.stderr, "ls: %v\n", errNoRemote)
		return
	}
	p := s.cwd
	if len(args) > 0 {
		p = s.resolvePath(args[0])
	}

	files, err := s.remote.ReadDir(p)
	if err != nil {
		fmt.Fprintf(s.stderr, "ls: %v\n", err)
		return
	}

	w := tabwriter.NewWriter(s.stdout, 0, 0, 1, ' ', 0)
	for _, f := range files {
		modTime := f.ModTime().Format("Jan 02 15:04")
		name := f.Name()
		if f.IsDir() {
			name += "/"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Mode(), formatBytes(f.Size()), modTime, name)
	}
	w.Flush()
}

func (s *Shell) handleLocalLs(args []string) {
	p := "."
	if len(args) > 0 {
		p = args[0]
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		fmt.Fprintf(s.stderr, "lls: %v\n", err)
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		fmt.Fprintln(s.stdout, name)
	}
}

func (s *Shell) printHelp() {
	help := `
队列命令:
  put [-z] <local> [remote-dir]      上传文件或目录，-z 先打包为 zip
  get [-x] [-r] <remote> [local-dir] 下载文件或目录，-x 下载后解压 zip
  jobs [-a]     列出任务，-a 包含已完成的任务
  status        显示队列状态
  start         开始处理队列
  stop          停止派发新任务，执行中的任务继续
  limit [n]     查看或设置并发上限
  cancel        取消所有执行中的传输
  scans-cancel  取消所有目录扫描
  rm <id>...    移除任务
  retry <id>... 重试失败或取消的任务
  clear         清除已完成的任务
  reconnect     连接断开后重新建立会话

浏览命令:
  cd <path>     切换远程目录
  lcd <path>    切换本地目录
  pwd           显示远程当前目录
  lpwd          显示本地当前目录
  ls [path]     列出远程文件
  lls [path]    列出本地文件
  exit/quit     退出
`
	fmt.Fprintln(s.stdout, help)
}
