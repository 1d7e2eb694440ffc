package ssh

import (
	"fmt"

	"github.com/wentf9/sftpq/pkg/models"
	"golang.org/x/crypto/ssh"
)

// Client 一个已认证的 SSH 连接，传输通道都在它上面打开
type Client struct {
	sshClient *ssh.Client
	node      models.Node
	host      models.Host
	identity  models.Identity
}

func newClient(raw *ssh.Client, node models.Node, host models.Host, identity models.Identity) *Client {
	return &Client{
		sshClient: raw,
		node:      node,
		host:      host,
		identity:  identity,
	}
}

// Close 关闭连接
func (c *Client) Close() error {
	return c.sshClient.Close()
}

// SSHClient 暴露底层的 ssh.Client (供 sftp 子系统使用)
func (c *Client) SSHClient() *ssh.Client {
	return c.sshClient
}

// Node 返回当前连接对应的节点配置
func (c *Client) Node() models.Node {
	return c.node
}

// Host 返回连接的目标主机
func (c *Client) Host() models.Host {
	return c.host
}

// String 形如 user@host:port
func (c *Client) String() string {
	return fmt.Sprintf("%s@%s:%d", c.identity.User, c.host.Address, c.host.Port)
}
