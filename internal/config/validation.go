package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/any-hub/diskcache/internal/cache"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}

	cc := c.Cache
	if cc.CacheDir == "" {
		return newFieldError("Cache.CacheDir", "不能为空")
	}
	if cc.ShardDepth < 0 || cc.ShardDepth > cache.MinKeyLength {
		return newFieldError("Cache.ShardDepth", fmt.Sprintf("必须在 0-%d", cache.MinKeyLength))
	}
	if cc.MaxCacheSize.Bytes() < cache.BlockSize {
		return newFieldError("Cache.MaxCacheSize", fmt.Sprintf("不能小于 %d 字节", cache.BlockSize))
	}
	if _, err := cache.NewHasher(cc.KeyAlgorithm); err != nil {
		return newFieldError("Cache.KeyAlgorithm", "仅支持 xxhash/sha256")
	}
	if _, err := cache.ParseMode(cc.DefaultTransfer); err != nil {
		return newFieldError("Cache.DefaultTransfer", "仅支持 copy/move/link")
	}
	if cc.Upstream != "" {
		if err := validateUpstream(cc.Upstream); err != nil {
			return fmt.Errorf("Cache.Upstream: %w", err)
		}
	}
	if cc.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Cache.UpstreamTimeout", "必须大于 0")
	}
	if cc.UpstreamRateLimit < 0 {
		return newFieldError("Cache.UpstreamRateLimit", "不能为负数")
	}
	if cc.UpstreamBurst < 0 {
		return newFieldError("Cache.UpstreamBurst", "不能为负数")
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
