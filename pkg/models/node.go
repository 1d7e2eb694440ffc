package models

// Identity 定义认证信息
type Identity struct {
	User       string `yaml:"user"`
	KeyPath    string `yaml:"key_path,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"` // 私钥密码
	Password   string `yaml:"password,omitempty"`   // 登录密码
	AuthType   string `yaml:"auth_type"`            // "key", "password"
}

// Host 定义网络连接信息
type Host struct {
	Alias   []string `yaml:"alias,omitempty"`
	Address string   `yaml:"address"` // IP 或 域名
	Port    uint16   `yaml:"port"`
}

// Node 是传输会话的目标，聚合了 Host 和 Identity
type Node struct {
	Alias []string `yaml:"alias,omitempty"`

	HostRef     string `yaml:"host_ref"`
	IdentityRef string `yaml:"identity_ref"`

	// 指向另一个 Node 的名称，作为跳板机
	ProxyJump string `yaml:"proxy_jump,omitempty"`

	// 默认的远程工作目录，为空时使用登录目录
	RemoteDir string `yaml:"remote_dir,omitempty"`
}
