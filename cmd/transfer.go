package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wentf9/sftpq/global"
	"github.com/wentf9/sftpq/pkg/config"
	"github.com/wentf9/sftpq/pkg/console"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/sftp"
	"github.com/wentf9/sftpq/pkg/transfer"
)

type TransferOptions struct {
	ConnOptions
	direction   models.Direction
	zip         bool
	unzip       bool
	extractTo   string
	concurrency int
	noProgress  bool
	sources     []string
	dest        string
}

func NewTransferOptions(direction models.Direction) *TransferOptions {
	return &TransferOptions{direction: direction}
}

func NewCmdPut() *cobra.Command {
	o := NewTransferOptions(models.Upload)
	cmd := &cobra.Command{
		Use:   "put <node|[user@]host[:port]> <local>... <remote-dir>",
		Short: "上传文件或目录",
		Long: `把本地文件或目录加入上传队列并等待全部完成。
目录会被扫描展开为单个文件任务，使用 -z 时整体打包为 zip 后上传。
用法示例:
sftpq put web ./dist /var/www
sftpq put -z deploy@10.0.0.5 ./logs /tmp`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Complete(args)
			return o.Run()
		},
	}
	o.AddFlags(cmd)
	cmd.Flags().BoolVarP(&o.zip, "zip", "z", false, "目录打包为 zip 后上传")
	o.addCommonFlags(cmd)
	return cmd
}

func NewCmdGet() *cobra.Command {
	o := NewTransferOptions(models.Download)
	cmd := &cobra.Command{
		Use:   "get <node|[user@]host[:port]> <remote>... <local-dir>",
		Short: "下载文件或目录",
		Long: `把远程文件或目录加入下载队列并等待全部完成。
使用 -x 时下载的 zip 文件会被解压，解压目录可以通过 --extract-to 指定。
用法示例:
sftpq get web /var/log/nginx ./logs
sftpq get -x web /tmp/site.zip .`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Complete(args)
			return o.Run()
		},
	}
	o.AddFlags(cmd)
	cmd.Flags().BoolVarP(&o.unzip, "unzip", "x", false, "下载 zip 后解压")
	cmd.Flags().StringVar(&o.extractTo, "extract-to", "", "解压目录，默认在下载目录旁自动生成")
	o.addCommonFlags(cmd)
	return cmd
}

func (o *TransferOptions) addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&o.concurrency, "concurrency", "n", 0, "同时传输的文件数 (默认取配置文件)")
	cmd.Flags().BoolVar(&o.noProgress, "no-progress", false, "不显示进度条")
}

func (o *TransferOptions) Complete(args []string) {
	o.Target = args[0]
	o.sources = args[1 : len(args)-1]
	o.dest = args[len(args)-1]
}

func (o *TransferOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := startQueue(ctx, &o.ConnOptions)
	if err != nil {
		return err
	}
	r := console.NewRenderer(a.bus, os.Stderr, console.RendererOptions{
		Progress: global.ShowProgress() && !o.noProgress,
		MinLevel: slog.LevelInfo,
	})
	defer func() {
		a.Close()
		r.Close()
	}()
	if o.concurrency > 0 {
		a.manager.SetMaxConcurrent(o.concurrency)
	}

	requests, err := o.requests(a)
	if err != nil {
		return err
	}
	for _, req := range requests {
		if _, err := a.manager.Enqueue(req); err != nil {
			return err
		}
	}
	a.manager.Start()

	if err := console.WaitIdle(ctx, a.manager, 0); err != nil {
		a.manager.CancelActive()
		return fmt.Errorf("传输被中断: %w", err)
	}
	st := a.manager.Stats()
	if n := st.ByStatus[models.StatusFailed] + st.ByStatus[models.StatusCancelled]; n > 0 {
		return fmt.Errorf("%d 个任务未完成", n)
	}
	if !a.manager.Running() {
		return errors.New("队列因会话不可用而停止")
	}
	return nil
}

// requests 把命令行参数转换为入队请求，远程相对路径基于登录目录
func (o *TransferOptions) requests(a *queueApp) ([]transfer.EnqueueRequest, error) {
	sess, err := a.session.Session()
	if err != nil {
		return nil, err
	}
	client, err := sess.OpenClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()
	base := remoteBase(a.nodeId)

	var reqs []transfer.EnqueueRequest
	switch o.direction {
	case models.Upload:
		remote, err := remoteAbs(client, base, o.dest)
		if err != nil {
			return nil, err
		}
		for _, src := range o.sources {
			local, err := filepath.Abs(src)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(local)
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, transfer.EnqueueRequest{
				SourcePath:  local,
				TargetPath:  remote,
				Direction:   models.Upload,
				IsDirectory: info.IsDir(),
				ZipUpload:   o.zip && info.IsDir(),
			})
		}
	case models.Download:
		local, err := filepath.Abs(o.dest)
		if err != nil {
			return nil, err
		}
		for _, src := range o.sources {
			remote, err := remoteAbs(client, base, src)
			if err != nil {
				return nil, err
			}
			info, err := client.Stat(remote)
			if err != nil {
				return nil, fmt.Errorf("远程路径 %s: %w", remote, err)
			}
			reqs = append(reqs, transfer.EnqueueRequest{
				SourcePath:     remote,
				TargetPath:     local,
				Direction:      models.Download,
				IsDirectory:    info.IsDir(),
				UnzipDownload:  o.unzip && !info.IsDir(),
				ExtractionPath: o.extractTo,
			})
		}
	}
	return reqs, nil
}

// remoteBase 节点配置的默认远程目录，没有时为空
func remoteBase(nodeId string) string {
	node, ok := config.NewProvider(appConfig).GetNode(nodeId)
	if !ok {
		return ""
	}
	return node.RemoteDir
}

// remoteAbs 相对路径优先基于节点的默认目录，否则基于登录目录
func remoteAbs(c *sftp.Client, base, p string) (string, error) {
	if path.IsAbs(p) {
		return path.Clean(p), nil
	}
	if path.IsAbs(base) {
		return path.Join(base, p), nil
	}
	cwd, err := c.Cwd()
	if err != nil {
		return "", err
	}
	return c.JoinPath(cwd, base, p), nil
}

func init() {
	rootCmd.AddCommand(NewCmdPut())
	rootCmd.AddCommand(NewCmdGet())
}
