package concurrent

import (
	"fmt"
	"maps"
	"sync"

	"gopkg.in/yaml.v3"
)

// 默认分片数量
const DEFAULT_SHARD_COUNT = 32

// Option 定义配置函数的类型
type Option[K comparable, V any] func(*Map[K, V])

// WithShardCount 允许用户自定义分片数量
// count: 建议设置为 2 的幂 (如 16, 32, 64, 128)
func WithShardCount[K comparable, V any](count uint32) Option[K, V] {
	return func(m *Map[K, V]) {
		if count > 0 {
			m.shardCount = count
		}
	}
}

// Map 分片加锁的并发 Map
// K: 键的类型 (必须是可比较的)
// V: 值的类型 (任意)
type Map[K comparable, V any] struct {
	shards   []*ConcurrentMapShard[K, V]
	hashFunc func(K) uint32 // 用于计算 Key 的哈希值，决定分片位置
	// 数量越多，锁的粒度越小，并发性能越好，但内存开销稍大
	shardCount uint32
}

// ConcurrentMapShard 是内部的分片结构
// 每个分片拥有自己的锁和原生 Map
type ConcurrentMapShard[K comparable, V any] struct {
	items        map[K]V
	sync.RWMutex // 读写锁，读写分离提高性能
}

// NewMap 创建一个新的并发 Map
// hashFunc: 将 Key 转换为 uint32 整数
func NewMap[K comparable, V any](hashFunc func(K) uint32, opts ...Option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		shardCount: DEFAULT_SHARD_COUNT,
		hashFunc:   hashFunc,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.init()
	return m
}

func (m *Map[K, V]) init() {
	if m.shardCount == 0 {
		m.shardCount = DEFAULT_SHARD_COUNT
	}
	if m.hashFunc == nil {
		// 零值 Map (例如由 yaml 解码创建) 使用通用哈希
		m.hashFunc = func(k K) uint32 { return HashString(fmt.Sprint(k)) }
	}
	m.shards = make([]*ConcurrentMapShard[K, V], m.shardCount)
	for i := range m.shardCount {
		m.shards[i] = &ConcurrentMapShard[K, V]{
			items: make(map[K]V),
		}
	}
}

// getShard 根据 Key 获取对应的分片
func (m *Map[K, V]) getShard(key K) *ConcurrentMapShard[K, V] {
	return m.shards[m.hashFunc(key)%m.shardCount]
}

func (m *Map[K, V]) Set(key K, value V) {
	shard := m.getShard(key)
	shard.Lock()
	shard.items[key] = value
	shard.Unlock()
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	shard := m.getShard(key)
	shard.RLock()
	val, ok := shard.items[key]
	shard.RUnlock()
	return val, ok
}

func (m *Map[K, V]) Remove(key K) {
	shard := m.getShard(key)
	shard.Lock()
	delete(shard.items, key)
	shard.Unlock()
}

// Count 返回元素总数
func (m *Map[K, V]) Count() int {
	count := 0
	for _, shard := range m.shards {
		shard.RLock()
		count += len(shard.items)
		shard.RUnlock()
	}
	return count
}

// Keys 返回所有 Key 的快照，顺序不固定
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, m.Count())
	m.IterCb(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// IterCb 逐个分片遍历，fn 返回 false 时停止
// 一次只锁一个分片，fn 中不能写入同一个 Map
func (m *Map[K, V]) IterCb(fn func(key K, v V) bool) {
	for _, shard := range m.shards {
		shard.RLock()
		for k, v := range shard.items {
			if !fn(k, v) {
				shard.RUnlock()
				return
			}
		}
		shard.RUnlock()
	}
}

// Clear 清空 Map 中的所有数据
func (m *Map[K, V]) Clear() {
	for _, shard := range m.shards {
		shard.Lock()
		shard.items = make(map[K]V)
		shard.Unlock()
	}
}

// Pop 从 Map 中删除一个 Key，并返回它被删除之前的值
func (m *Map[K, V]) Pop(key K) (V, bool) {
	shard := m.getShard(key)
	shard.Lock()
	defer shard.Unlock()

	val, ok := shard.items[key]
	if ok {
		delete(shard.items, key)
	}
	return val, ok
}

// SetIfAbsent Key 不存在时写入，返回最终的值以及是否写入
func (m *Map[K, V]) SetIfAbsent(key K, value V) (V, bool) {
	shard := m.getShard(key)
	shard.Lock()
	defer shard.Unlock()

	if existing, ok := shard.items[key]; ok {
		return existing, false
	}
	shard.items[key] = value
	return value, true
}

// Snapshot 复制出一个普通 map
func (m *Map[K, V]) Snapshot() map[K]V {
	tmp := make(map[K]V)
	for _, shard := range m.shards {
		shard.RLock()
		maps.Copy(tmp, shard.items)
		shard.RUnlock()
	}
	return tmp
}

// MarshalYAML 实现 yaml.Marshaler 接口
func (m *Map[K, V]) MarshalYAML() (any, error) {
	return m.Snapshot(), nil
}

// UnmarshalYAML 实现 yaml.Unmarshaler 接口，未初始化的 Map 会先初始化
func (m *Map[K, V]) UnmarshalYAML(value *yaml.Node) error {
	tmp := make(map[K]V)
	if err := value.Decode(&tmp); err != nil {
		return err
	}
	if m.shards == nil {
		m.init()
	}
	for k, v := range tmp {
		m.Set(k, v)
	}
	return nil
}
