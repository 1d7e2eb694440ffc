package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wentf9/sftpq/pkg/config"
	"github.com/wentf9/sftpq/pkg/sftp"
	"github.com/wentf9/sftpq/pkg/ssh"
	"github.com/wentf9/sftpq/pkg/transfer"
)

// ErrNotConnected 当前没有可用的会话
var ErrNotConnected = errors.New("session: not connected")

// Session 一个已认证的 SSH 连接，每个传输任务在上面打开自己的 sftp 通道
type Session struct {
	client *ssh.Client
	opts   []sftp.Option
}

// OpenFS 打开一个新的 sftp 子系统通道
func (s *Session) OpenFS(ctx context.Context) (transfer.RemoteFS, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := sftp.NewClient(s.client, s.opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// OpenClient 和 OpenFS 相同，但返回具体类型，交互命令需要 Cwd 等方法
func (s *Session) OpenClient() (*sftp.Client, error) {
	return sftp.NewClient(s.client, s.opts...)
}

func (s *Session) String() string {
	return s.client.String()
}

// Options 会话参数
type Options struct {
	KeepAliveInterval time.Duration
	// 连接前先探测目标是否可达
	Probe        bool
	ProbeTimeout time.Duration
	SFTP         []sftp.Option
	Logger       *slog.Logger
	// 会话意外断开时调用，不在锁内
	OnLost func(node string, err error)
}

// Provider 维护到一个节点的当前会话，实现 transfer.SessionProvider
type Provider struct {
	connector *ssh.Connector
	cfg       config.ConfigProvider
	node      string
	opts      Options
	log       *slog.Logger

	mu        sync.RWMutex
	current   *Session
	stopAlive context.CancelFunc
}

func NewProvider(connector *ssh.Connector, node string, opts Options) *Provider {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	return &Provider{
		connector: connector,
		cfg:       connector.Config,
		node:      node,
		opts:      opts,
		log:       log.With("node", node),
	}
}

func (p *Provider) Node() string { return p.node }

// Current 返回当前会话，未连接或已断开时返回 nil
func (p *Provider) Current() transfer.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil
	}
	return p.current
}

// Session 返回具体类型的当前会话
func (p *Provider) Session() (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil, ErrNotConnected
	}
	return p.current, nil
}

// Connect 建立会话，已连接时直接返回
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.RLock()
	connected := p.current != nil
	p.mu.RUnlock()
	if connected {
		return nil
	}

	if p.opts.Probe {
		host, ok := p.cfg.GetHost(p.node)
		if !ok {
			return fmt.Errorf("host for node '%s' not found", p.node)
		}
		res := Probe(ctx, host.Address, host.Port, p.opts.ProbeTimeout)
		if !res.TCPOpen {
			return fmt.Errorf("node '%s' unreachable: %w", p.node, res.Err)
		}
	}

	client, err := p.connector.Connect(ctx, p.node)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return nil
	}
	aliveCtx, stop := context.WithCancel(context.Background())
	p.current = &Session{client: client, opts: p.opts.SFTP}
	p.stopAlive = stop
	p.mu.Unlock()

	ssh.StartKeepAlive(aliveCtx, client.SSHClient(), p.opts.KeepAliveInterval, func(err error) {
		p.lost(client, err)
	})
	p.log.Info("Session established", "remote", client.String())
	return nil
}

// lost 心跳失败后标记会话丢失，派发循环随后会暂停
func (p *Provider) lost(client *ssh.Client, err error) {
	p.mu.Lock()
	if p.current == nil || p.current.client != client {
		p.mu.Unlock()
		return
	}
	p.current = nil
	p.stopAlive()
	p.stopAlive = nil
	p.mu.Unlock()

	p.connector.Disconnect(p.node)
	p.log.Warn("Session lost", "err", err)
	if p.opts.OnLost != nil {
		p.opts.OnLost(p.node, err)
	}
}

// Reconnect 丢弃旧连接并重新建立
func (p *Provider) Reconnect(ctx context.Context) error {
	p.Disconnect()
	return p.Connect(ctx)
}

// Disconnect 关闭当前会话
func (p *Provider) Disconnect() {
	p.mu.Lock()
	had := p.current != nil
	p.current = nil
	if p.stopAlive != nil {
		p.stopAlive()
		p.stopAlive = nil
	}
	p.mu.Unlock()

	p.connector.Disconnect(p.node)
	if had {
		p.log.Info("Session closed")
	}
}
