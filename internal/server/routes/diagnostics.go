package routes

import (
	"errors"
	"strconv"

	"github.com/docker/go-units"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/diskcache/internal/cache"
	"github.com/any-hub/diskcache/internal/logging"
	"github.com/any-hub/diskcache/internal/server"
)

// CacheInspector 是诊断接口依赖的最小 Index 能力集合。
type CacheInspector interface {
	Stats() cache.Stats
	Entries() []cache.EntryInfo
	Resync() error
	Trim() (int, error)
}

// RegisterDiagnosticRoutes 暴露 /-/stats、/-/entries 与 /-/resync，供运维查看缓存状态。
func RegisterDiagnosticRoutes(router fiber.Router, index CacheInspector, logger logrus.FieldLogger) {
	if router == nil || index == nil {
		return
	}

	router.Get("/-/stats", func(c fiber.Ctx) error {
		return c.JSON(encodeStats(index.Stats()))
	})

	router.Get("/-/entries", func(c fiber.Ctx) error {
		entries := index.Entries()
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_limit"})
			}
			if limit < len(entries) {
				entries = entries[:limit]
			}
		}
		return c.JSON(fiber.Map{
			"count":   len(entries),
			"entries": entries,
		})
	})

	router.Post("/-/resync", func(c fiber.Ctx) error {
		fields := logrus.Fields{"action": "resync", "request_id": server.RequestID(c)}
		if err := index.Resync(); err != nil {
			logger.WithError(err).WithFields(fields).Error("diagnostics_resync_failed")
			code := "internal_error"
			if errors.Is(err, cache.ErrCorruptTree) {
				code = "corrupt_tree"
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": code})
		}
		payload := fiber.Map{}
		if c.Query("trim") == "true" {
			evicted, err := index.Trim()
			if err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "not_ready"})
			}
			payload["evicted"] = evicted
		}
		stats := index.Stats()
		logger.WithFields(fields).WithFields(logging.StatsFields(stats)).Info("diagnostics_resync_complete")
		payload["stats"] = encodeStats(stats)
		return c.JSON(payload)
	})
}

type statsPayload struct {
	cache.Stats
	TotalBytes int64  `json:"total_bytes"`
	MaxBytes   int64  `json:"max_bytes"`
	TotalHuman string `json:"total_human"`
	MaxHuman   string `json:"max_human"`
}

func encodeStats(stats cache.Stats) statsPayload {
	total := stats.TotalBlocks * cache.BlockSize
	limit := stats.MaxBlocks * cache.BlockSize
	return statsPayload{
		Stats:      stats,
		TotalBytes: total,
		MaxBytes:   limit,
		TotalHuman: units.BytesSize(float64(total)),
		MaxHuman:   units.BytesSize(float64(limit)),
	}
}
