package config

import (
	"time"

	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/utils/concurrent"
)

// Configuration 对应 yaml 文件的顶层结构
type Configuration struct {
	Identities *concurrent.Map[string, models.Identity] `yaml:"identities"`
	Hosts      *concurrent.Map[string, models.Host]     `yaml:"hosts"`
	Nodes      *concurrent.Map[string, models.Node]     `yaml:"nodes"`

	Queue    QueueConfig    `yaml:"queue"`
	Transfer TransferConfig `yaml:"transfer"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
	History  HistoryConfig  `yaml:"history"`
}

// QueueConfig 队列调度参数
type QueueConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent"`
	DispatchInterval  time.Duration `yaml:"dispatch_interval"`
	MaxSessionRetries int           `yaml:"max_session_retries"`
	EventBuffer       int           `yaml:"event_buffer"`
}

// TransferConfig 单文件分块传输参数
type TransferConfig struct {
	ThreadsPerFile int   `yaml:"threads_per_file"`
	ChunkSize      int64 `yaml:"chunk_size"`
}

type SessionConfig struct {
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	// 连接前先 ping 一次目标
	Probe bool `yaml:"probe"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
}

type HistoryConfig struct {
	Path     string `yaml:"path,omitempty"`
	Disabled bool   `yaml:"disabled"`
}

// NewConfiguration 返回带默认值的空配置
func NewConfiguration() *Configuration {
	return &Configuration{
		Identities: concurrent.NewMap[string, models.Identity](concurrent.HashString),
		Hosts:      concurrent.NewMap[string, models.Host](concurrent.HashString),
		Nodes:      concurrent.NewMap[string, models.Node](concurrent.HashString),
		Queue: QueueConfig{
			MaxConcurrent:     3,
			DispatchInterval:  750 * time.Millisecond,
			MaxSessionRetries: 5,
			EventBuffer:       1024,
		},
		Transfer: TransferConfig{
			ThreadsPerFile: 64,
			ChunkSize:      32 * 1024,
		},
		Session: SessionConfig{
			KeepAliveInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// ConfigProvider 定义 Connector 获取配置数据的接口
type ConfigProvider interface {
	GetNode(name string) (models.Node, bool)
	GetHost(name string) (models.Host, bool)
	GetIdentity(name string) (models.Identity, bool)
	AddHost(name string, host models.Host)
	AddIdentity(name string, identity models.Identity)
	AddNode(name string, node models.Node)
	DeleteNode(name string)
	ListNodes() map[string]models.Node
	Find(input string) string
}
