package handler

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/diskcache/internal/cache"
)

var (
	errDigestMismatch = errors.New("content digest mismatch")
	errImportDisabled = errors.New("import disabled")
	errOutsideRoot    = errors.New("source outside import root")
	errRateLimited    = errors.New("upstream rate limit exceeded")
)

// upstreamStatusError 表示上游返回了非 200 状态，原样透传给客户端。
type upstreamStatusError struct {
	status int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded %d", e.status)
}

// statusFor 把缓存与处理层错误映射为 HTTP 状态码与错误码。
func statusFor(err error) (int, string) {
	var transferErr *cache.TransferError
	var upstreamErr *upstreamStatusError
	switch {
	case errors.Is(err, cache.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, cache.ErrInvalidKey):
		return fiber.StatusBadRequest, "invalid_key"
	case errors.Is(err, cache.ErrInconsistentCache):
		return fiber.StatusConflict, "inconsistent_cache"
	case errors.Is(err, cache.ErrNotReady):
		return fiber.StatusServiceUnavailable, "not_ready"
	case errors.Is(err, errDigestMismatch):
		return fiber.StatusBadRequest, "digest_mismatch"
	case errors.Is(err, errImportDisabled):
		return fiber.StatusForbidden, "import_disabled"
	case errors.Is(err, errOutsideRoot):
		return fiber.StatusForbidden, "source_outside_root"
	case errors.Is(err, errRateLimited):
		return fiber.StatusTooManyRequests, "upstream_rate_limited"
	case errors.As(err, &transferErr):
		return fiber.StatusUnprocessableEntity, "transfer_failed"
	case errors.As(err, &upstreamErr):
		return upstreamErr.status, "upstream_status"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
