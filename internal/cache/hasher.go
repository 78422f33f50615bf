package cache

import (
	_ "crypto/sha256" // go-digest 只在链接了对应 hash 实现时可用
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/opencontainers/go-digest"
)

// Hasher 将任意可识别字符串（URL、包坐标等）映射为缓存 key。
// 输出必须是确定性的小写十六进制串，且满足 MinKeyLength。
type Hasher interface {
	Hash(identity string) string
}

// XXHasher 使用 xxhash64，输出 16 位十六进制；非加密，但对缓存规模足够。
type XXHasher struct{}

func (XXHasher) Hash(identity string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(identity))
}

// DigestHasher 使用 sha256 digest 的十六进制部分（64 位）。
type DigestHasher struct{}

func (DigestHasher) Hash(identity string) string {
	return digest.FromString(identity).Encoded()
}

// NewHasher 根据配置名返回对应实现，空字符串默认 xxhash。
func NewHasher(algorithm string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", "xxhash":
		return XXHasher{}, nil
	case "sha256":
		return DigestHasher{}, nil
	default:
		return nil, fmt.Errorf("unsupported key algorithm: %s", algorithm)
	}
}
