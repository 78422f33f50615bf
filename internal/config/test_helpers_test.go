package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fixture 返回 testdata 下的配置样例路径，main 包的测试同样复用这些文件。
func fixture(name string) string {
	return filepath.Join("testdata", name)
}

// writeConfig 把 TOML 片段写到临时目录，返回可直接交给 Load 的路径。
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "diskcache.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// mustLoad 写入并加载配置，任何错误都直接终止测试。
func mustLoad(t *testing.T, body string) *Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	return cfg
}

// validConfig 返回一份通过 Validate 的最小配置，用例在其上逐项破坏字段。
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort: 5000,
			LogLevel:   "info",
		},
		Cache: CacheConfig{
			CacheDir:        "/var/cache/diskcache",
			ShardDepth:      3,
			MaxCacheSize:    ByteSize(1 << 30),
			KeyAlgorithm:    "xxhash",
			DefaultTransfer: "copy",
			UpstreamTimeout: Duration(30 * time.Second),
		},
	}
}
