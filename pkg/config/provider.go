package config

import (
	"fmt"
	"strings"

	"github.com/wentf9/sftpq/pkg/models"
	"github.com/wentf9/sftpq/pkg/utils/concurrent"
)

const defaultSSHPort = 22

type Provider struct {
	cfg         *Configuration
	lookupIndex *concurrent.Map[string, string]
}

func NewProvider(cfg *Configuration) ConfigProvider {
	provider := Provider{
		cfg:         cfg,
		lookupIndex: concurrent.NewMap[string, string](concurrent.HashString),
	}
	provider.init()
	return provider
}

// add 将节点及其所有标识符加入索引
func (cp Provider) add(nodeId string) {
	node, ok := cp.GetNode(nodeId)
	if !ok {
		return
	}
	identity, ok := cp.GetIdentity(nodeId)
	if !ok {
		return
	}
	host, ok := cp.GetHost(nodeId)
	if !ok {
		return
	}
	cp.lookupIndex.Set(nodeId, nodeId)
	for _, alias := range node.Alias {
		if alias != "" {
			cp.lookupIndex.Set(alias, nodeId)
		}
	}
	if identity.User == "" {
		return
	}
	addrs := append([]string{host.Address}, host.Alias...)
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		cp.lookupIndex.Set(endpointKey(identity.User, addr, host.Port), nodeId)
		// 默认端口可以省略
		if host.Port == defaultSSHPort {
			cp.lookupIndex.Set(identity.User+"@"+addr, nodeId)
		}
	}
}

func endpointKey(user, addr string, port uint16) string {
	return fmt.Sprintf("%s@%s:%d", user, addr, port)
}

// Find 匹配用户输入: 节点名、别名、user@host[:port]
func (cp Provider) Find(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	if nodeId, ok := cp.lookupIndex.Get(input); ok {
		return nodeId
	}
	return ""
}

func (cp Provider) GetNode(nodeId string) (models.Node, bool) {
	return cp.cfg.Nodes.Get(nodeId)
}

func (cp Provider) GetHost(nodeId string) (models.Host, bool) {
	if node, ok := cp.cfg.Nodes.Get(nodeId); ok {
		return cp.cfg.Hosts.Get(node.HostRef)
	}
	return models.Host{}, false
}

func (cp Provider) GetIdentity(nodeId string) (models.Identity, bool) {
	if node, ok := cp.cfg.Nodes.Get(nodeId); ok {
		return cp.cfg.Identities.Get(node.IdentityRef)
	}
	return models.Identity{}, false
}

// AddNode 需要先加入引用的 Host 和 Identity，否则节点不会进入索引
func (cp Provider) AddNode(nodeId string, node models.Node) {
	cp.cfg.Nodes.Set(nodeId, node)
	cp.add(nodeId)
}

func (cp Provider) AddHost(hostId string, host models.Host) {
	cp.cfg.Hosts.Set(hostId, host)
}

func (cp Provider) AddIdentity(identityId string, identity models.Identity) {
	cp.cfg.Identities.Set(identityId, identity)
}

// DeleteNode 只删除节点本身，Host 和 Identity 可能被其他节点引用
func (cp Provider) DeleteNode(nodeId string) {
	if _, ok := cp.cfg.Nodes.Pop(nodeId); !ok {
		return
	}
	var stale []string
	cp.lookupIndex.IterCb(func(key, val string) bool {
		if val == nodeId {
			stale = append(stale, key)
		}
		return true
	})
	for _, key := range stale {
		cp.lookupIndex.Remove(key)
	}
}

func (cp Provider) ListNodes() map[string]models.Node {
	return cp.cfg.Nodes.Snapshot()
}

func (cp Provider) init() {
	for _, nodeId := range cp.cfg.Nodes.Keys() {
		cp.add(nodeId)
	}
}
