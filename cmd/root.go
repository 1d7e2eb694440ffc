package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wentf9/sftpq/cmd/utils"
	"github.com/wentf9/sftpq/cmd/version"
	"github.com/wentf9/sftpq/pkg/config"
	"github.com/wentf9/sftpq/pkg/logger"
)

// 全局参数，由 PersistentPreRunE 填充
var (
	configFile string
	logLevel   string
	logFile    string
	debug      bool

	configStore config.Store
	appConfig   *config.Configuration
	logCloser   io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sftpq [command] [flags]",
	Short: "sftpq 是一个基于 SFTP 的传输队列工具",
	Long: `sftpq 把上传和下载请求放入队列，通过一个 SSH 连接并发执行。
支持目录扫描展开、整体打包上传、下载后解压、失败重试和取消。
节点信息保存在 ~/.sftpq/config.yaml，密码使用 AES-GCM 加密保存。`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			version.PrintFullVersion()
			return nil
		}
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, keyPath := utils.GetConfigFilePath(configFile)
		configStore = config.NewDefaultStore(configPath, keyPath)
		cfg, err := configStore.Load()
		if err != nil {
			return fmt.Errorf("加载配置文件失败: %w", err)
		}
		config.ApplyEnv(cfg)
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-file") {
			cfg.Log.File = logFile
		}
		if debug {
			cfg.Log.Level = "debug"
		}
		appConfig = cfg

		logCloser = logger.Init(logger.Options{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		logger.Logger.Debug("config loaded", "path", configPath, "nodes", cfg.Nodes.Count())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "显示版本信息")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径 (默认 ~/.sftpq/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "日志文件路径，按大小轮转")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "开启调试模式")
}
