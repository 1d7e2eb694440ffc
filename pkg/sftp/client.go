package sftp

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/sftp"
	"github.com/wentf9/sftpq/pkg/ssh" // 引用我们要复用的 ssh 包
)

// Option 定义配置函数的类型
type Option func(*Client)

func WithThreadsPerFile(t int) Option {
	return func(c *Client) {
		if t > 0 {
			c.config.ThreadsPerFile = t
		}
	}
}

func WithChunkSize(size int64) Option {
	return func(c *Client) {
		if size > 0 {
			c.config.ChunkSize = size
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// Client 包装了 sftp.Client，每个传输任务独占一个
type Client struct {
	sftpClient *sftp.Client
	sshClient  *ssh.Client // 保留引用，方便获取 Node 信息
	config     TransferConfig
	log        *slog.Logger
}

// NewClient 在现有的 SSH 连接上打开一个新的 sftp 子系统通道
// 这里复用了 pkg/ssh 中已经建立好的连接 (包括跳板机隧道)
func NewClient(sshCli *ssh.Client, opts ...Option) (*Client, error) {
	client, err := sftp.NewClient(sshCli.SSHClient(),
		sftp.UseConcurrentWrites(true),
		sftp.UseConcurrentReads(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp subsystem: %w", err)
	}
	sftpCli := &Client{
		sftpClient: client,
		sshClient:  sshCli,
		config:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(sftpCli)
	}
	return sftpCli, nil
}

func (c *Client) logger() *slog.Logger {
	if c.log == nil {
		return slog.Default()
	}
	return c.log
}

// SFTPClient 返回底层的 *sftp.Client 对象
func (c *Client) SFTPClient() *sftp.Client {
	return c.sftpClient
}

// Close 关闭 SFTP 通道，不会关闭底层的 SSH 连接
func (c *Client) Close() error {
	return c.sftpClient.Close()
}

// Cwd 获取远程当前工作目录
func (c *Client) Cwd() (string, error) {
	return c.sftpClient.Getwd()
}

// JoinPath 处理远程路径拼接 (SFTP 协议强制使用 forward slash)
func (c *Client) JoinPath(elem ...string) string {
	return c.sftpClient.Join(elem...)
}

func (c *Client) ReadDir(path string) ([]os.FileInfo, error) {
	return c.sftpClient.ReadDir(path)
}

func (c *Client) Stat(path string) (os.FileInfo, error) {
	return c.sftpClient.Stat(path)
}

func (c *Client) MkdirAll(path string) error {
	return c.sftpClient.MkdirAll(path)
}

func (c *Client) Remove(path string) error {
	return c.sftpClient.Remove(path)
}

func (c *Client) RemoveDirectory(path string) error {
	return c.sftpClient.RemoveDirectory(path)
}

// RealPath 返回服务器规范化后的绝对路径，会解析符号链接
func (c *Client) RealPath(path string) (string, error) {
	return c.sftpClient.RealPath(path)
}
