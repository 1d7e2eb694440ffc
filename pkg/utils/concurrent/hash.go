package concurrent

import (
	"hash/fnv"
)

// HashString 针对 string 类型的标准 FNV-1a 哈希算法
func HashString(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// HashInt64 混合高 32 位和低 32 位，确保高位变化也能影响分片结果
// 乘以大素数 (Knuth's Multiplicative Hash) 让连续的 ID 均匀打散
func HashInt64(key int64) uint32 {
	value := uint64(key)
	return uint32(value^(value>>32)) * 2654435761
}
