package session

import (
	"context"
	"fmt"
	"net"
	"time"

	ping "github.com/prometheus-community/pro-bing"
)

// ProbeResult 一次可达性探测的结果
type ProbeResult struct {
	Addr string
	// ICMP 部分，权限不足或被过滤时 PacketsRecv 为 0
	PacketsSent int
	PacketsRecv int
	AvgRtt      time.Duration
	ICMPErr     error
	// TCP 部分，决定目标是否可用
	TCPOpen bool
	DialRtt time.Duration
	Err     error
}

// Probe 依次进行一次 ICMP ping 和一次 TCP 连接测试
// ping 使用非特权模式 (UDP)，失败不影响结果
func Probe(ctx context.Context, address string, port uint16, timeout time.Duration) ProbeResult {
	res := ProbeResult{Addr: net.JoinHostPort(address, fmt.Sprint(port))}

	pinger, err := ping.NewPinger(address)
	if err != nil {
		res.ICMPErr = err
	} else {
		pinger.SetPrivileged(false)
		pinger.Count = 1
		pinger.Timeout = timeout
		if err := pinger.RunWithContext(ctx); err != nil {
			res.ICMPErr = err
		}
		stats := pinger.Statistics()
		res.PacketsSent = stats.PacketsSent
		res.PacketsRecv = stats.PacketsRecv
		res.AvgRtt = stats.AvgRtt
	}

	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", res.Addr)
	if err != nil {
		res.Err = err
		return res
	}
	res.DialRtt = time.Since(start)
	res.TCPOpen = true
	conn.Close()
	return res
}
