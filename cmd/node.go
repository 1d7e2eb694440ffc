package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wentf9/sftpq/cmd/utils"
	"github.com/wentf9/sftpq/pkg/config"
	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/ssh"
)

func NewCmdNode() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "node",
		Aliases: []string{"nodes", "host", "hosts"},
		Short:   "管理存储的传输节点",
		Long:    `管理存储的主机、身份认证和节点信息。支持列出、添加、修改和删除操作。`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.AddCommand(NewCmdNodeList())
	cmd.AddCommand(NewCmdNodeAdd())
	cmd.AddCommand(NewCmdNodeEdit())
	cmd.AddCommand(NewCmdNodeDelete())
	return cmd
}

// loadNodes 重新从文件加载配置，避免把环境变量覆盖写回文件
func loadNodes() (*config.Configuration, config.ConfigProvider, error) {
	cfg, err := configStore.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置文件失败: %w", err)
	}
	return cfg, config.NewProvider(cfg), nil
}

func NewCmdNodeList() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "列出所有存储的节点",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, provider, err := loadNodes()
			if err != nil {
				return err
			}
			nodes := provider.ListNodes()
			if len(nodes) == 0 {
				fmt.Println("没有找到已存储的节点。")
				return nil
			}

			keys := make([]string, 0, len(nodes))
			for k := range nodes {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "名称/ID\t别名\t主机地址\t用户\t认证方式\t跳板机\t远程目录")
			for _, nodeId := range keys {
				node := nodes[nodeId]
				host, _ := provider.GetHost(nodeId)
				identity, _ := provider.GetIdentity(nodeId)
				fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%s\t%s\t%s\n",
					nodeId,
					strings.Join(node.Alias, ", "),
					host.Address, host.Port,
					identity.User,
					identity.AuthType,
					node.ProxyJump,
					node.RemoteDir,
				)
			}
			return w.Flush()
		},
	}
}

func NewCmdNodeAdd() *cobra.Command {
	var (
		address   string
		port      uint16
		user      string
		password  string
		keyPath   string
		keyPass   string
		alias     []string
		jump      string
		remoteDir string
		useAgent  bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "添加一个新节点",
		RunE: func(cmd *cobra.Command, args []string) error {
			if address == "" {
				return fmt.Errorf("必须指定主机地址 (--address)")
			}
			cfg, provider, err := loadNodes()
			if err != nil {
				return err
			}
			if port == 0 {
				port = 22
			}
			if user == "" {
				user = utils.GetCurrentUser()
			}

			identity := models.Identity{User: user}
			switch {
			case useAgent:
				identity.AuthType = ssh.AuthAgent
			case keyPath != "":
				identity.KeyPath = keyPath
				identity.Passphrase = keyPass
				identity.AuthType = ssh.AuthKey
			case password != "":
				identity.Password = password
				identity.AuthType = ssh.AuthPassword
			default:
				pass, err := utils.ReadPasswordFromTerminal(fmt.Sprintf("请输入用户 %s 的密码: ", user))
				if err != nil {
					return err
				}
				identity.Password = pass
				identity.AuthType = ssh.AuthPassword
			}

			name := fmt.Sprintf("%s@%s:%d", user, address, port)
			if _, ok := provider.GetNode(name); ok {
				return fmt.Errorf("节点 %s 已存在", name)
			}
			for _, a := range alias {
				if other := provider.Find(a); other != "" {
					return fmt.Errorf("别名 %s 已被节点 %s 使用", a, other)
				}
			}
			node := models.Node{
				HostRef:     fmt.Sprintf("%s:%d", address, port),
				IdentityRef: fmt.Sprintf("%s@%s", user, address),
				Alias:       alias,
				RemoteDir:   remoteDir,
			}
			if jump != "" {
				if node.ProxyJump = provider.Find(jump); node.ProxyJump == "" {
					return fmt.Errorf("跳板机 %s 信息不存在", jump)
				}
			}

			provider.AddIdentity(node.IdentityRef, identity)
			provider.AddHost(node.HostRef, models.Host{Address: address, Port: port})
			provider.AddNode(name, node)
			if err := configStore.Save(cfg); err != nil {
				return fmt.Errorf("保存配置文件失败: %w", err)
			}
			fmt.Printf("成功添加节点: %s\n", name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "H", "", "主机 IP 或域名")
	cmd.Flags().Uint16VarP(&port, "port", "p", 22, "SSH 端口")
	cmd.Flags().StringVarP(&user, "user", "u", "", "SSH 用户名")
	cmd.Flags().StringVarP(&password, "password", "P", "", "SSH 密码")
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "SSH 私钥路径")
	cmd.Flags().StringVarP(&keyPass, "key-pass", "w", "", "SSH 私钥密码")
	cmd.Flags().StringSliceVarP(&alias, "alias", "a", []string{}, "节点别名 (逗号分隔)")
	cmd.Flags().StringVarP(&jump, "jump", "j", "", "跳板机名称")
	cmd.Flags().StringVarP(&remoteDir, "remote-dir", "d", "", "默认远程目录")
	cmd.Flags().BoolVar(&useAgent, "agent", false, "使用 ssh-agent 认证 (SSH_AUTH_SOCK)")
	cmd.MarkFlagsMutuallyExclusive("agent", "key", "password")
	return cmd
}

func NewCmdNodeEdit() *cobra.Command {
	var (
		password  string
		keyPath   string
		keyPass   string
		alias     []string
		jump      string
		remoteDir string
		useAgent  bool
	)

	cmd := &cobra.Command{
		Use:   "edit <node>",
		Short: "修改已存储节点的认证、别名、跳板机或远程目录",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, provider, err := loadNodes()
			if err != nil {
				return err
			}
			nodeId := provider.Find(args[0])
			if nodeId == "" {
				return fmt.Errorf("节点 %s 不存在", args[0])
			}
			node, _ := provider.GetNode(nodeId)
			identity, _ := provider.GetIdentity(nodeId)
			updated := false

			if useAgent {
				identity.AuthType = ssh.AuthAgent
				identity.Password = ""
				identity.KeyPath = ""
				updated = true
			} else if keyPath != "" {
				identity.KeyPath = keyPath
				identity.AuthType = ssh.AuthKey
				identity.Password = ""
				updated = true
			} else if password != "" {
				identity.Password = password
				identity.AuthType = ssh.AuthPassword
				identity.KeyPath = ""
				updated = true
			}
			if keyPass != "" {
				identity.Passphrase = keyPass
				updated = true
			}
			if cmd.Flags().Changed("alias") {
				node.Alias = alias
				updated = true
			}
			if cmd.Flags().Changed("jump") {
				node.ProxyJump = ""
				if jump != "" {
					if node.ProxyJump = provider.Find(jump); node.ProxyJump == "" {
						return fmt.Errorf("跳板机 %s 信息不存在", jump)
					}
					if node.ProxyJump == nodeId {
						return fmt.Errorf("节点不能作为自己的跳板机")
					}
				}
				updated = true
			}
			if cmd.Flags().Changed("remote-dir") {
				node.RemoteDir = remoteDir
				updated = true
			}

			if !updated {
				fmt.Println("未提供任何修改项")
				return nil
			}
			provider.AddIdentity(node.IdentityRef, identity)
			provider.AddNode(nodeId, node)
			if err := configStore.Save(cfg); err != nil {
				return fmt.Errorf("保存配置文件失败: %w", err)
			}
			fmt.Printf("成功更新节点: %s\n", nodeId)
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "P", "", "修改 SSH 密码")
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "修改 SSH 私钥路径")
	cmd.Flags().StringVarP(&keyPass, "key-pass", "w", "", "修改私钥密码")
	cmd.Flags().StringSliceVarP(&alias, "alias", "a", []string{}, "修改节点别名 (覆盖原有别名)")
	cmd.Flags().StringVarP(&jump, "jump", "j", "", "修改跳板机名称，空字符串表示不使用")
	cmd.Flags().StringVarP(&remoteDir, "remote-dir", "d", "", "修改默认远程目录")
	cmd.Flags().BoolVar(&useAgent, "agent", false, "改为使用 ssh-agent 认证")
	cmd.MarkFlagsMutuallyExclusive("agent", "key", "password")
	return cmd
}

func NewCmdNodeDelete() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <node>",
		Aliases: []string{"rm"},
		Short:   "删除一个存储的节点",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, provider, err := loadNodes()
			if err != nil {
				return err
			}
			nodeId := provider.Find(args[0])
			if nodeId == "" {
				return fmt.Errorf("节点 %s 不存在", args[0])
			}
			for id, n := range provider.ListNodes() {
				if n.ProxyJump == nodeId {
					return fmt.Errorf("节点 %s 正被 %s 用作跳板机", nodeId, id)
				}
			}
			provider.DeleteNode(nodeId)
			if err := configStore.Save(cfg); err != nil {
				return fmt.Errorf("保存配置文件失败: %w", err)
			}
			fmt.Printf("成功删除节点: %s\n", nodeId)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(NewCmdNode())
}
