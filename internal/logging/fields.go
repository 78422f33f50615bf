package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/diskcache/internal/cache"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供方法、key 与命中状态字段，供 HTTP 请求日志复用。
func RequestFields(requestID, method, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"key":        key,
		"cache_hit":  cacheHit,
	}
}

// StatsFields 把缓存统计展开为日志字段。
func StatsFields(stats cache.Stats) logrus.Fields {
	return logrus.Fields{
		"entries":         stats.Entries,
		"total_blocks":    stats.TotalBlocks,
		"max_blocks":      stats.MaxBlocks,
		"evictions":       stats.Evictions,
		"eviction_errors": stats.EvictionErrors,
		"ready":           stats.Ready,
	}
}
