package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// 环境变量覆盖配置文件中的同名设置
const (
	EnvMaxConcurrent = "SFTPQ_MAX_CONCURRENT"
	EnvLogLevel      = "SFTPQ_LOG_LEVEL"
	EnvLogFile       = "SFTPQ_LOG_FILE"
	EnvHistory       = "SFTPQ_HISTORY"
)

// ApplyEnv 先加载 envFiles (缺省为当前目录的 .env)，再用环境变量覆盖 cfg
// godotenv 不会覆盖进程中已有的变量
func ApplyEnv(cfg *Configuration, envFiles ...string) {
	_ = godotenv.Load(envFiles...) // .env 不存在时忽略

	if v, err := strconv.Atoi(os.Getenv(EnvMaxConcurrent)); err == nil && v > 0 {
		cfg.Queue.MaxConcurrent = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Log.File = v
	}
	switch v := os.Getenv(EnvHistory); strings.ToLower(v) {
	case "":
	case "off", "false", "0", "none":
		cfg.History.Disabled = true
	default:
		cfg.History.Path = v
		cfg.History.Disabled = false
	}
}
