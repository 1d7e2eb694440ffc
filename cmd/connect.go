package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/wentf9/sftpq/cmd/utils"
	"github.com/wentf9/sftpq/pkg/config"
	"github.com/wentf9/sftpq/pkg/events"
	"github.com/wentf9/sftpq/pkg/history"
	"github.com/wentf9/sftpq/pkg/logger"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/session"
	"github.com/wentf9/sftpq/pkg/sftp"
	"github.com/wentf9/sftpq/pkg/ssh"
	"github.com/wentf9/sftpq/pkg/transfer"
)

// ConnOptions 目标节点的连接参数，所有需要会话的命令共用
type ConnOptions struct {
	Target   string // 节点名、别名或 [user@]host[:port]
	Password string
	KeyFile  string
	KeyPass  string
	Alias    string
	JumpHost string

	Host string
	Port uint16
	User string
}

func (o *ConnOptions) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Password, "password", "P", "", "SSH密码")
	cmd.Flags().StringVarP(&o.KeyFile, "key", "i", "", "SSH私钥文件路径")
	cmd.Flags().StringVarP(&o.KeyPass, "key_pass", "W", "", "SSH私钥密码")
	cmd.Flags().StringVarP(&o.JumpHost, "jump", "j", "", "跳板机地址[user@]host[:port]")
	cmd.Flags().StringVarP(&o.Alias, "alias", "a", "", "连接别名")
	cmd.MarkFlagsMutuallyExclusive("password", "key")
}

// Validate 解析目标，节点名或别名直接使用，否则必须是 user@host[:port]
func (o *ConnOptions) Validate(provider config.ConfigProvider) error {
	if o.Target == "" {
		return fmt.Errorf("未提供目标主机")
	}
	if provider.Find(o.Target) != "" {
		return nil
	}
	o.User, o.Host, o.Port = utils.ParseAddr(o.Target)
	if o.Host == "" {
		return fmt.Errorf("无效的主机地址: %s", o.Target)
	}
	if o.User == "" {
		o.User = utils.GetCurrentUser()
	}
	if o.Port == 0 {
		o.Port = 22
	}
	return nil
}

// resolveNode 返回节点 ID，新节点会加入配置
// 返回 updated 表示配置有变化，连接成功后需要保存
func (o *ConnOptions) resolveNode(provider config.ConfigProvider) (nodeId string, updated bool, err error) {
	if nodeId = provider.Find(o.Target); nodeId != "" {
		return nodeId, update(nodeId, o, provider), nil
	}
	if nodeId = provider.Find(fmt.Sprintf("%s@%s:%d", o.User, o.Host, o.Port)); nodeId != "" {
		return nodeId, update(nodeId, o, provider), nil
	}

	nodeId = fmt.Sprintf("%s@%s:%d", o.User, o.Host, o.Port)
	node := models.Node{
		HostRef:     fmt.Sprintf("%s:%d", o.Host, o.Port),
		IdentityRef: fmt.Sprintf("%s@%s", o.User, o.Host),
	}
	if o.JumpHost != "" {
		jumpHost := provider.Find(o.JumpHost)
		if jumpHost == "" {
			return "", false, fmt.Errorf("跳板机 %s 信息不存在,请先保存跳板机信息", o.JumpHost)
		}
		node.ProxyJump = jumpHost
	}
	if o.Alias != "" {
		node.Alias = append(node.Alias, o.Alias)
	}
	identity := models.Identity{User: o.User}
	switch {
	case o.KeyFile != "":
		identity.KeyPath = o.KeyFile
		identity.Passphrase = o.KeyPass
		identity.AuthType = "key"
	case o.Password != "":
		identity.Password = o.Password
		identity.AuthType = "password"
	default:
		pass, err := utils.ReadPasswordFromTerminal("请输入密码: ")
		if err != nil {
			return "", false, err
		}
		identity.Password = pass
		identity.AuthType = "password"
	}
	provider.AddHost(node.HostRef, models.Host{Address: o.Host, Port: o.Port})
	provider.AddIdentity(node.IdentityRef, identity)
	provider.AddNode(nodeId, node)
	return nodeId, true, nil
}

// update 用命令行参数更新已有节点
func update(nodeId string, o *ConnOptions, provider config.ConfigProvider) bool {
	nodeUpdated := false
	identityUpdated := false
	node, _ := provider.GetNode(nodeId)
	identity, _ := provider.GetIdentity(nodeId)

	if o.JumpHost != "" {
		if jumpHost := provider.Find(o.JumpHost); jumpHost != "" && jumpHost != node.ProxyJump {
			node.ProxyJump = jumpHost
			nodeUpdated = true
		}
	}
	if o.Alias != "" && provider.Find(o.Alias) != nodeId {
		node.Alias = append(node.Alias, o.Alias)
		nodeUpdated = true
	}
	if o.Password != "" && o.Password != identity.Password {
		identity.Password = o.Password
		identity.AuthType = "password"
		identityUpdated = true
	} else if o.KeyFile != "" && o.KeyFile != identity.KeyPath {
		identity.KeyPath = o.KeyFile
		identity.AuthType = "key"
		identityUpdated = true
	}
	if o.KeyPass != "" && o.KeyPass != identity.Passphrase {
		identity.Passphrase = o.KeyPass
		identityUpdated = true
	}

	if identityUpdated {
		provider.AddIdentity(node.IdentityRef, identity)
	}
	if nodeUpdated {
		provider.AddNode(nodeId, node)
	}
	return nodeUpdated || identityUpdated
}

// queueApp 一次命令运行所需的全部组件: 会话、队列、历史记录
type queueApp struct {
	nodeId    string
	connector *ssh.Connector
	session   *session.Provider
	manager   *transfer.Manager
	bus       *events.EventBus
	history   *history.Store
	recorder  *history.Recorder

	cancel  context.CancelFunc
	runDone chan struct{}
}

// startQueue 连接节点并启动派发循环，队列初始为停止状态
func startQueue(ctx context.Context, o *ConnOptions) (*queueApp, error) {
	cfg := appConfig
	provider := config.NewProvider(cfg)
	if err := o.Validate(provider); err != nil {
		return nil, fmt.Errorf("参数错误: %w", err)
	}
	nodeId, updated, err := o.resolveNode(provider)
	if err != nil {
		return nil, err
	}

	a := &queueApp{
		nodeId:    nodeId,
		connector: ssh.NewConnector(provider),
		bus:       events.NewEventBus(cfg.Queue.EventBuffer),
		runDone:   make(chan struct{}),
	}
	a.session = session.NewProvider(a.connector, nodeId, session.Options{
		KeepAliveInterval: cfg.Session.KeepAliveInterval,
		Probe:             cfg.Session.Probe,
		SFTP: []sftp.Option{
			sftp.WithThreadsPerFile(cfg.Transfer.ThreadsPerFile),
			sftp.WithChunkSize(cfg.Transfer.ChunkSize),
			sftp.WithLogger(logger.Logger),
		},
		Logger: logger.Logger,
		OnLost: func(node string, err error) {
			a.bus.Publish(events.NewLogMessage(slog.LevelWarn, fmt.Sprintf("Connection to %s lost: %v", node, err)))
		},
	})
	if err := a.session.Connect(ctx); err != nil {
		a.connector.CloseAll()
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	if updated {
		if err := configStore.Save(cfg); err != nil {
			logger.Logger.Warn("保存配置文件失败", "err", err)
		}
	}

	a.manager = transfer.NewManager(a.session, a.bus,
		transfer.WithConfig(transfer.Config{
			MaxConcurrent:     cfg.Queue.MaxConcurrent,
			DispatchInterval:  cfg.Queue.DispatchInterval,
			MaxSessionRetries: cfg.Queue.MaxSessionRetries,
		}),
		transfer.WithLogger(logger.Logger),
	)
	a.openHistory(cfg)

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	go func() {
		defer close(a.runDone)
		a.manager.Run(runCtx)
	}()

	// 配置文件修改后只重新应用并发上限
	configPath, _ := utils.GetConfigFilePath(configFile)
	err = config.Watch(runCtx, configStore, configPath, func(c *config.Configuration) {
		config.ApplyEnv(c)
		a.manager.SetMaxConcurrent(c.Queue.MaxConcurrent)
	}, logger.Logger)
	if err != nil {
		logger.Logger.Debug("config watch disabled", "err", err)
	}
	return a, nil
}

func (a *queueApp) openHistory(cfg *config.Configuration) {
	if cfg.History.Disabled {
		return
	}
	path := cfg.History.Path
	if path == "" {
		path = filepath.Join(utils.ConfigDir(configFile), utils.HistoryDBName)
	}
	store, err := history.Open(path)
	if err != nil {
		logger.Logger.Warn("历史记录不可用", "path", path, "err", err)
		return
	}
	run, err := store.BeginRun(a.nodeId)
	if err != nil {
		logger.Logger.Warn("历史记录不可用", "err", err)
		store.Close()
		return
	}
	a.history = store
	a.recorder = history.NewRecorder(store, run, a.bus, logger.Logger)
}

// Close 停止派发循环，等待执行器退出，然后关闭连接和历史记录
func (a *queueApp) Close() {
	a.cancel()
	<-a.runDone
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
	a.bus.Close()
	a.session.Disconnect()
	a.connector.CloseAll()
}
