package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wentf9/sftpq/cmd/version"
	"github.com/wentf9/sftpq/pkg/control"
	"github.com/wentf9/sftpq/pkg/logger"
)

func NewCmdMCP() *cobra.Command {
	o := &ConnOptions{}
	var autoStart bool
	cmd := &cobra.Command{
		Use:   "mcp <node|[user@]host[:port]>",
		Short: "以 MCP 服务的方式提供传输队列 (stdio)",
		Long: `连接到指定主机，并在标准输入输出上提供 MCP 服务。
客户端可以通过工具调用加入上传下载任务、查询进度、启动停止和取消任务。
标准输出被协议占用，日志只写入标准错误或日志文件。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o.Target = args[0]
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := startQueue(ctx, o)
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.session.Session()
			if err != nil {
				return err
			}
			remote, err := sess.OpenClient()
			if err != nil {
				return fmt.Errorf("sftp会话创建失败: %w", err)
			}
			defer remote.Close()

			if autoStart {
				a.manager.Start()
			}
			logger.Logger.Info("mcp server ready", "node", a.nodeId)
			return control.NewServer(a.manager, remote.Stat, version.Version).Run(ctx)
		},
	}
	o.AddFlags(cmd)
	cmd.Flags().BoolVar(&autoStart, "start", true, "启动后立即开始处理队列")
	return cmd
}

func init() {
	rootCmd.AddCommand(NewCmdMCP())
}
