package cache

import (
	"fmt"
	"path/filepath"
)

const (
	// MinKeyLength 是合法 hash 的最小长度，同时也是分片深度的上限。
	MinKeyLength = 8
	// DefaultShardDepth 是默认的目录层数。
	DefaultShardDepth = 3
)

// PathMapper 把 hash 映射为 <root>/<h[0]>/<h[1]>/.../<hash>，每层取一个字符，
// 保证单个目录的子项数量有上限。映射是纯函数：同一 hash 永远落在同一路径。
type PathMapper struct {
	root  string
	depth int
	fs    Filesystem
}

// NewPathMapper 构造映射器；depth 必须位于 [0, MinKeyLength]。
func NewPathMapper(root string, depth int, fsys Filesystem) (*PathMapper, error) {
	if depth < 0 || depth > MinKeyLength {
		return nil, fmt.Errorf("%w: shard depth %d out of range [0,%d]", ErrInvalidConfiguration, depth, MinKeyLength)
	}
	if fsys == nil {
		fsys = NewOSFilesystem()
	}
	return &PathMapper{root: root, depth: depth, fs: fsys}, nil
}

// Root 返回缓存根目录。
func (m *PathMapper) Root() string {
	return m.root
}

// Depth 返回分片层数。
func (m *PathMapper) Depth() int {
	return m.depth
}

// Path 校验 hash 并计算最终路径，不产生副作用。
func (m *PathMapper) Path(hash string) (string, error) {
	if err := ValidateKey(hash); err != nil {
		return "", err
	}
	return filepath.Join(m.shardDir(hash), hash), nil
}

// Ensure 与 Path 相同，但会幂等地创建分片目录链。
func (m *PathMapper) Ensure(hash string) (string, error) {
	if err := ValidateKey(hash); err != nil {
		return "", err
	}
	dir := m.shardDir(hash)
	if err := m.fs.MakeDirs(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, hash), nil
}

func (m *PathMapper) shardDir(hash string) string {
	parts := make([]string, 0, m.depth+1)
	parts = append(parts, m.root)
	for level := 0; level < m.depth; level++ {
		parts = append(parts, hash[level:level+1])
	}
	return filepath.Join(parts...)
}

// ValidateKey 检查 hash 是否为至少 MinKeyLength 位的小写十六进制串。
func ValidateKey(hash string) error {
	if len(hash) < MinKeyLength {
		return fmt.Errorf("%w: %q shorter than %d", ErrInvalidKey, hash, MinKeyLength)
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidKey, hash, c)
		}
	}
	return nil
}
