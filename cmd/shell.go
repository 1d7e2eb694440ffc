package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wentf9/sftpq/pkg/console"
)

type ShellOptions struct {
	ConnOptions
	autoStart bool
}

func NewCmdShell() *cobra.Command {
	o := &ShellOptions{}
	cmd := &cobra.Command{
		Use:   "shell <node|[user@]host[:port]>",
		Short: "打开交互式传输队列控制台",
		Long: `连接到指定主机并打开交互式控制台。
在控制台中可以浏览远程目录、加入上传下载任务、查看进度、取消和重试任务。
输入 help 查看所有命令。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Target = args[0]
			return o.Run()
		},
	}
	o.AddFlags(cmd)
	cmd.Flags().BoolVar(&o.autoStart, "start", true, "启动后立即开始处理队列")
	return cmd
}

func (o *ShellOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	a, err := startQueue(ctx, &o.ConnOptions)
	if err != nil {
		return err
	}
	r := console.NewRenderer(a.bus, os.Stderr, console.RendererOptions{MinLevel: slog.LevelWarn})
	defer func() {
		a.Close()
		r.Close()
	}()

	sess, err := a.session.Session()
	if err != nil {
		return err
	}
	browser, err := sess.OpenClient()
	if err != nil {
		return fmt.Errorf("sftp交互式环境创建失败: %w", err)
	}
	defer func() { browser.Close() }()

	if o.autoStart {
		a.manager.Start()
	}
	fmt.Fprintf(os.Stdout, "已连接到 %s，输入 help 查看可用命令\n", sess)
	shell := console.NewShell(a.manager, browser, os.Stdin, os.Stdout, os.Stderr)
	if dir := remoteBase(a.nodeId); dir != "" {
		shell.SetCwd(dir)
	}
	shell.SetReconnect(func() (console.Remote, error) {
		if err := a.session.Reconnect(ctx); err != nil {
			return nil, err
		}
		sess, err := a.session.Session()
		if err != nil {
			return nil, err
		}
		c, err := sess.OpenClient()
		if err != nil {
			return nil, err
		}
		browser.Close()
		browser = c
		return c, nil
	})
	if err := shell.Run(ctx); err != nil {
		return fmt.Errorf("交互式环境退出: %w", err)
	}
	if st := a.manager.Stats(); st.Active > 0 {
		fmt.Fprintf(os.Stdout, "取消 %d 个执行中的传输\n", st.Active)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(NewCmdShell())
}
