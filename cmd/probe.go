package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wentf9/sftpq/cmd/utils"
	"github.com/wentf9/sftpq/pkg/config"
	"github.com/wentf9/sftpq/pkg/runner"
	"github.com/wentf9/sftpq/pkg/session"
)

type probeTarget struct {
	name    string
	address string
	port    uint16
}

func NewCmdProbe() *cobra.Command {
	var (
		timeout     time.Duration
		concurrency uint
	)
	cmd := &cobra.Command{
		Use:   "probe [node|host[:port]...]",
		Short: "检查节点网络可达性 (ICMP ping + TCP 端口)",
		Long: `对每个目标发送一次 ICMP ping 并尝试建立 TCP 连接。
不指定目标时检查所有已存储的节点。
ICMP 使用非特权模式，在不允许的系统上只显示 TCP 结果。
示例: sftpq probe web1 10.0.0.5:2222`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := probeTargets(config.NewProvider(appConfig), args)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				fmt.Println("没有找到已存储的节点。")
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			results := runner.RunParallel(ctx, targets, concurrency,
				func(ctx context.Context, t probeTarget) (session.ProbeResult, error) {
					res := session.Probe(ctx, t.address, t.port, timeout)
					return res, res.Err
				})

			var collected []runner.Result[probeTarget, session.ProbeResult]
			for r := range results {
				collected = append(collected, r)
			}
			sort.Slice(collected, func(i, j int) bool {
				return collected[i].Target.name < collected[j].Target.name
			})

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "目标\t地址\tICMP\tTCP\t结果")
			down := 0
			for _, r := range collected {
				icmp := "-"
				if r.Value.PacketsRecv > 0 {
					icmp = r.Value.AvgRtt.Round(time.Microsecond).String()
				} else if r.Value.PacketsSent > 0 {
					icmp = "丢失"
				}
				tcp := "关闭"
				status := "OK"
				if r.Value.TCPOpen {
					tcp = r.Value.DialRtt.Round(time.Microsecond).String()
				}
				if r.Error != nil {
					down++
					status = r.Error.Error()
				}
				fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\t%s\n", r.Target.name, r.Target.address, r.Target.port, icmp, tcp, status)
			}
			w.Flush()
			if down > 0 {
				return fmt.Errorf("%d 个目标不可达", down)
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "单个目标的超时时间")
	cmd.Flags().UintVarP(&concurrency, "concurrency", "n", 8, "并发探测数量")
	return cmd
}

// probeTargets 解析参数，已存储的节点使用其主机信息
func probeTargets(provider config.ConfigProvider, args []string) ([]probeTarget, error) {
	if len(args) == 0 {
		var out []probeTarget
		for nodeId := range provider.ListNodes() {
			if host, ok := provider.GetHost(nodeId); ok {
				out = append(out, probeTarget{name: nodeId, address: host.Address, port: host.Port})
			}
		}
		return out, nil
	}
	out := make([]probeTarget, 0, len(args))
	for _, arg := range args {
		if nodeId := provider.Find(arg); nodeId != "" {
			host, _ := provider.GetHost(nodeId)
			out = append(out, probeTarget{name: nodeId, address: host.Address, port: host.Port})
			continue
		}
		_, host, port := utils.ParseAddr(arg)
		if host == "" {
			return nil, fmt.Errorf("无效的主机地址: %s", arg)
		}
		if port == 0 {
			port = 22
		}
		out = append(out, probeTarget{name: arg, address: host, port: port})
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(NewCmdProbe())
}
