// Package global 进程级的终端状态，启动时确定
package global

import (
	"os"

	"golang.org/x/term"
)

var (
	// StdinTerminal 标准输入是终端，false 表示可能是管道或重定向，此时不能提示输入密码
	StdinTerminal = term.IsTerminal(int(os.Stdin.Fd()))
	// StderrTerminal 进度条和提示写到标准错误
	StderrTerminal = term.IsTerminal(int(os.Stderr.Fd()))
)

// ShowProgress 只有标准错误是终端时才绘制进度条
func ShowProgress() bool {
	return StderrTerminal
}
