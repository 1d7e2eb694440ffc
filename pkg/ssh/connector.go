package ssh

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wentf9/sftpq/pkg/config"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/utils/concurrent"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second
)

// ConnectorOption 定义 Connector 配置函数的类型
type ConnectorOption func(*Connector)

// WithHostKeyCallback 替换默认的主机密钥校验
func WithHostKeyCallback(cb ssh.HostKeyCallback) ConnectorOption {
	return func(c *Connector) {
		if cb != nil {
			c.hostKeyCallback = cb
		}
	}
}

func WithDialTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// Connector 负责创建 SSH 连接
type Connector struct {
	Config config.ConfigProvider
	// 连接池：缓存 nodeName -> *ssh.Client
	clients *concurrent.Map[string, *ssh.Client]
	// singleflight 组，用来控制并发和去重
	sf singleflight.Group

	hostKeyCallback ssh.HostKeyCallback
	dialTimeout     time.Duration
}

// NewConnector 创建一个新的 Connector
func NewConnector(cfg config.ConfigProvider, opts ...ConnectorOption) *Connector {
	c := &Connector{
		Config:          cfg,
		clients:         concurrent.NewMap[string, *ssh.Client](concurrent.HashString),
		hostKeyCallback: ssh.InsecureIgnoreHostKey(),
		dialTimeout:     DefaultDialTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect 根据节点名称建立 SSH 连接
// 自动处理跳板机逻辑：如果节点配置了 ProxyJump，会递归建立连接
func (c *Connector) Connect(ctx context.Context, nodeName string) (*Client, error) {
	if cachedClient, ok := c.clients.Get(nodeName); ok {
		return c.wrap(cachedClient, nodeName)
	}
	// 即使多个协程同时调 Connect(node)，Do 里面的函数只会执行一次
	result, err, _ := c.sf.Do(nodeName, func() (any, error) {
		// 双重检查：防止在进入 Do 之前别的协程刚好把连接建立好了
		if cachedClient, ok := c.clients.Get(nodeName); ok {
			return c.wrap(cachedClient, nodeName)
		}

		node, ok := c.Config.GetNode(nodeName)
		if !ok {
			return nil, fmt.Errorf("node not found '%s'", nodeName)
		}
		host, ok := c.Config.GetHost(nodeName)
		if !ok {
			return nil, fmt.Errorf("host ref '%s' not found for node '%s'", node.HostRef, nodeName)
		}
		identity, ok := c.Config.GetIdentity(nodeName)
		if !ok {
			return nil, fmt.Errorf("identity ref '%s' not found for node '%s'", node.IdentityRef, nodeName)
		}

		// 如果有 ProxyJump，递归连接跳板机，将其 SSH Client 封装为 Dialer
		var dialer Dialer = &net.Dialer{Timeout: c.dialTimeout}
		if node.ProxyJump != "" {
			jumpHost := c.Config.Find(node.ProxyJump)
			if jumpHost == "" {
				jumpHost = node.ProxyJump
			}
			jumpNodeClient, err := c.Connect(ctx, jumpHost)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to jump host '%s': %w", node.ProxyJump, err)
			}
			dialer = &SSHProxyDialer{Client: jumpNodeClient.sshClient}
		}

		sshConfig, err := c.buildSSHConfig(identity)
		if err != nil {
			return nil, fmt.Errorf("failed to build ssh config for '%s': %w", nodeName, err)
		}

		targetAddr := net.JoinHostPort(host.Address, fmt.Sprint(host.Port))
		conn, err := dialer.DialContext(ctx, "tcp", targetAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to dial target '%s' (%s): %w", nodeName, targetAddr, err)
		}

		// 使用 NewClientConn 接管底层的 conn
		ncc, chans, reqs, err := ssh.NewClientConn(conn, targetAddr, sshConfig)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ssh handshake failed for '%s': %w", nodeName, err)
		}
		rawClient := ssh.NewClient(ncc, chans, reqs)
		c.clients.Set(nodeName, rawClient)
		return newClient(rawClient, node, host, identity), nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Client), nil
}

func (c *Connector) wrap(raw *ssh.Client, nodeName string) (*Client, error) {
	node, ok := c.Config.GetNode(nodeName)
	if !ok {
		return nil, fmt.Errorf("node not found '%s'", nodeName)
	}
	host, _ := c.Config.GetHost(nodeName)
	identity, _ := c.Config.GetIdentity(nodeName)
	return newClient(raw, node, host, identity), nil
}

// Disconnect 关闭并移除某个节点的缓存连接，下次 Connect 会重新建立
func (c *Connector) Disconnect(nodeName string) {
	if client, ok := c.clients.Pop(nodeName); ok {
		client.Close()
	}
}

// CloseAll 关闭所有缓存的连接 (在程序退出前调用)
func (c *Connector) CloseAll() {
	c.clients.IterCb(func(name string, client *ssh.Client) bool {
		client.Close()
		return true
	})
	c.clients.Clear()
}

// buildSSHConfig 根据 Identity 模型构建 ssh.ClientConfig
func (c *Connector) buildSSHConfig(id models.Identity) (*ssh.ClientConfig, error) {
	methods, err := authMethods(id)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            id.User,
		Auth:            methods,
		HostKeyCallback: c.hostKeyCallback,
		Timeout:         DefaultHandshakeTimeout,
	}, nil
}
