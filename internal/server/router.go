package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Registrar mounts a group of routes onto the application. It allows injecting
// fake handlers during tests.
type Registrar interface {
	Register(router fiber.Router)
}

// RegistrarFunc adapts a function to the Registrar interface.
type RegistrarFunc func(fiber.Router)

// Register makes RegistrarFunc satisfy Registrar.
func (f RegistrarFunc) Register(router fiber.Router) {
	f(router)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Routes     []Registrar
	ListenPort int
	BodyLimit  int
}

const contextKeyRequestID = "_diskcache_request_id"

// defaultBodyLimit 允许单次 PUT 上传 1 GiB。
const defaultBodyLimit = 1 << 30

// NewApp builds a Fiber application with request-ID middleware and structured
// error handling, then mounts every registrar in order.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(opts.Routes) == 0 {
		return nil, errors.New("at least one route registrar is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	limit := opts.BodyLimit
	if limit <= 0 {
		limit = defaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     limit,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	for _, r := range opts.Routes {
		if r != nil {
			r.Register(app)
		}
	}

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出 debug 级访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		err := c.Next()

		logger.WithFields(logrus.Fields{
			"action":     "request",
			"request_id": reqID,
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     c.Response().StatusCode(),
			"elapsed_ms": time.Since(started).Milliseconds(),
		}).Debug("request_complete")
		return err
	}
}

// errorHandler 把未处理的错误统一渲染为 {"error": code} JSON。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}

		code := ErrorCode(status)
		if status >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "request",
				"request_id": RequestID(c),
				"path":       c.Path(),
			}).Error("request_failed")
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

// ErrorCode 把 HTTP 状态码映射为稳定的错误码字符串。
func ErrorCode(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusRequestEntityTooLarge:
		return "body_too_large"
	case fiber.StatusBadGateway:
		return "upstream_failed"
	case fiber.StatusServiceUnavailable:
		return "not_ready"
	default:
		return "internal_error"
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
