package utils

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/wentf9/sftpq/global"
)

const (
	ConfigDirName  = ".sftpq"
	ConfigFileName = "config.yaml"
	ConfigKeyName  = "config.key"
	HistoryDBName  = "history.db"
)

// ParseAddr 解析 user@host:port 格式的字符串
func ParseAddr(input string) (string, string, uint16) {
	var user, host string = "", ""
	var port uint16 = 0
	if atIndex := strings.Index(input, "@"); atIndex != -1 {
		user = strings.TrimSpace(input[:atIndex])
		input = input[atIndex+1:]
	}
	if h, p, err := net.SplitHostPort(input); err == nil {
		port = ParsePort(p)
		input = h
	} else if colon := strings.LastIndex(input, ":"); colon != -1 && strings.Count(input, ":") == 1 {
		port = ParsePort(input[colon+1:])
		input = input[:colon]
	}
	host = strings.TrimSpace(input)

	return user, host, port
}

// ParsePort 解析端口字符串
// 如果输入为空字符串，则返回0
func ParsePort(input string) uint16 {
	if input == "" {
		return 0
	}
	port64, err := strconv.ParseUint(input, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(port64)
}

func GetCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		return ""
	}
	return currentUser.Username
}

// ConfigDir 返回配置目录，override 非空时使用 override 所在目录
func ConfigDir(override string) string {
	if override != "" {
		return filepath.Dir(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ConfigDirName
	}
	return filepath.Join(home, ConfigDirName)
}

// GetConfigFilePath 返回配置文件和密钥文件的路径，密钥总是与配置文件放在一起
func GetConfigFilePath(override string) (configPath, keyPath string) {
	dir := ConfigDir(override)
	configPath = override
	if configPath == "" {
		configPath = filepath.Join(dir, ConfigFileName)
	}
	return configPath, filepath.Join(dir, ConfigKeyName)
}

// ReadPasswordFromTerminal 从终端安全地读取密码
// 提示写到标准错误，标准输出可能被 mcp 协议占用
func ReadPasswordFromTerminal(prompt string) (string, error) {
	if !global.StdinTerminal {
		return "", errors.New("标准输入不是终端，请通过 --password 或 --key 提供认证信息")
	}
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // ReadPassword 不会打印换行符
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// IsValidIP 检查给定的字符串是否是有效的IPv4/IPv6地址
func IsValidIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	return ip != nil
}
