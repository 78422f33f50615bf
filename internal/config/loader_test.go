package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(fixture("missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
CacheDir = "./data"
UpstreamTimeout = "boom"
`
	path := writeConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsInvalidSize(t *testing.T) {
	cfg := `
CacheDir = "./data"
MaxCacheSize = "plenty"
`
	path := writeConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效容量应失败")
	}
}

func TestLoadAcceptsNumericFields(t *testing.T) {
	cfg := `
CacheDir = "./data"
MaxCacheSize = 1048576
UpstreamTimeout = 5
`
	loaded := mustLoad(t, cfg)
	if loaded.Cache.MaxCacheSize.Bytes() != 1<<20 {
		t.Fatalf("整数容量解析错误: %d", loaded.Cache.MaxCacheSize.Bytes())
	}
	if loaded.Cache.UpstreamTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("整数秒解析错误: %s", loaded.Cache.UpstreamTimeout.DurationValue())
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("DISKCACHE_MAXCACHESIZE", "2MiB")
	t.Setenv("DISKCACHE_SHARDDEPTH", "1")

	loaded := mustLoad(t, `CacheDir = "./data"`)
	if loaded.Cache.MaxCacheSize.Bytes() != 2<<20 {
		t.Fatalf("环境变量应覆盖容量: %d", loaded.Cache.MaxCacheSize.Bytes())
	}
	if loaded.Cache.ShardDepth != 1 {
		t.Fatalf("环境变量应覆盖分片层数: %d", loaded.Cache.ShardDepth)
	}
}

func TestLoadResolvesImportRoot(t *testing.T) {
	loaded := mustLoad(t, `
CacheDir = "./data"
ImportRoot = "./imports"
`)
	if !filepath.IsAbs(loaded.Cache.ImportRoot) || !loaded.Cache.ImportEnabled() {
		t.Fatalf("ImportRoot 应为绝对路径: %s", loaded.Cache.ImportRoot)
	}
}

func TestLoadDefaultsBurstForRateLimit(t *testing.T) {
	loaded := mustLoad(t, `
CacheDir = "./data"
UpstreamRateLimit = 2.5
`)
	if loaded.Cache.UpstreamRateLimit != 2.5 || loaded.Cache.UpstreamBurst != 1 {
		t.Fatalf("限流配置解析错误: %+v", loaded.Cache)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("配置文件不存在时应返回错误")
	}
}
