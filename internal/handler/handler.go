package handler

import (
	"bytes"
	"context"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/any-hub/diskcache/internal/cache"
	"github.com/any-hub/diskcache/internal/logging"
	"github.com/any-hub/diskcache/internal/server"
)

const spoolPrefix = "upload-"

// DigestHeader 携带 PUT 请求体的期望摘要，例如 "sha256:<hex>"。
const DigestHeader = "X-Content-Digest"

// Options 汇总 Handler 的依赖，Index/Hasher/Logger 必填。
type Options struct {
	Index       *cache.Index
	Hasher      cache.Hasher
	Client      *http.Client
	Logger      *logrus.Logger
	DefaultMode cache.Mode
	ImportRoot  string
	Upstream    string

	// Limiter 非空时限制回源频率，超出时直接返回 429 而不排队。
	Limiter *rate.Limiter
}

// Handler 把 Index 的 get/add/remove 暴露为 /objects、/keys 与 /fetch 路由。
type Handler struct {
	index       *cache.Index
	hasher      cache.Hasher
	client      *http.Client
	logger      *logrus.Logger
	defaultMode cache.Mode
	importRoot  string
	upstream    string
	incoming    string
	limiter     *rate.Limiter
	fetches     singleflight.Group
}

type importRequest struct {
	Source string `json:"source"`
	Mode   string `json:"mode"`
}

// New 校验依赖并返回 Handler；ImportRoot 会被解析为真实路径以便做前缀判断。
func New(opts Options) (*Handler, error) {
	if opts.Index == nil {
		return nil, errors.New("cache index is required")
	}
	if opts.Hasher == nil {
		return nil, errors.New("key hasher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	client := opts.Client
	if client == nil {
		client = server.NewUpstreamClient(nil)
	}

	root := ""
	if opts.ImportRoot != "" {
		abs, err := filepath.Abs(opts.ImportRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve import root: %w", err)
		}
		root = resolveLinks(abs)
	}

	h := &Handler{
		index:       opts.Index,
		hasher:      opts.Hasher,
		client:      client,
		logger:      opts.Logger,
		defaultMode: opts.DefaultMode,
		importRoot:  root,
		upstream:    strings.TrimRight(opts.Upstream, "/"),
		incoming:    filepath.Join(opts.Index.Dir(), cache.IncomingDir),
		limiter:     opts.Limiter,
	}
	h.purgeIncoming()
	return h, nil
}

// purgeIncoming 清理上次进程退出时遗留的上传暂存文件；Resync 不会进入 .incoming。
func (h *Handler) purgeIncoming() {
	matches, err := filepath.Glob(filepath.Join(h.incoming, spoolPrefix+"*"))
	if err != nil || len(matches) == 0 {
		return
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	h.logger.WithFields(logrus.Fields{
		"action":  "purge_incoming",
		"dir":     h.incoming,
		"removed": removed,
	}).Warn("incoming_leftovers_removed")
}

// Register 挂载对象、key 计算与回源路由；未配置 Upstream 时不注册 /fetch。
func (h *Handler) Register(router fiber.Router) {
	router.Get("/objects/:key", h.getObject)
	router.Head("/objects/:key", h.getObject)
	router.Put("/objects/:key", h.putObject)
	router.Post("/objects/:key/import", h.importObject)
	router.Delete("/objects/:key", h.deleteObject)
	router.Get("/keys", h.lookupKey)
	if h.upstream != "" {
		router.Get("/fetch/*", h.fetch)
		router.Head("/fetch/*", h.fetch)
	}
}

func (h *Handler) getObject(c fiber.Ctx) error {
	started := time.Now()
	key := c.Params("key")

	path, err := h.index.Get(key)
	if err != nil {
		h.logResult(c, "get", key, false, started, err)
		return h.writeError(c, err)
	}
	h.logResult(c, "get", key, true, started, nil)
	return h.serveFile(c, key, path, true)
}

func (h *Handler) putObject(c fiber.Ctx) error {
	started := time.Now()
	key := c.Params("key")
	if err := cache.ValidateKey(key); err != nil {
		h.logResult(c, "put", key, false, started, err)
		return h.writeError(c, err)
	}

	var want digest.Digest
	if raw := strings.TrimSpace(c.Get(DigestHeader)); raw != "" {
		parsed, err := digest.Parse(raw)
		if err != nil {
			h.logResult(c, "put", key, false, started, err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_digest"})
		}
		want = parsed
	}

	stage, err := h.spool(bytes.NewReader(c.Body()), want)
	if err != nil {
		h.logResult(c, "put", key, false, started, err)
		return h.writeError(c, err)
	}

	path, err := h.index.Add(stage, key, cache.ModeMove)
	if err != nil {
		_ = os.Remove(stage)
		h.logResult(c, "put", key, false, started, err)
		return h.writeError(c, err)
	}

	h.logResult(c, "put", key, false, started, nil)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key, "path": path})
}

func (h *Handler) importObject(c fiber.Ctx) error {
	started := time.Now()
	key := c.Params("key")
	if h.importRoot == "" {
		h.logResult(c, "import", key, false, started, errImportDisabled)
		return h.writeError(c, errImportDisabled)
	}

	var req importRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || strings.TrimSpace(req.Source) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	mode := h.defaultMode
	if req.Mode != "" {
		parsed, err := cache.ParseMode(req.Mode)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_mode"})
		}
		mode = parsed
	}

	src, err := h.resolveImport(req.Source)
	if err != nil {
		h.logResult(c, "import", key, false, started, err)
		return h.writeError(c, err)
	}

	path, err := h.index.Add(src, key, mode)
	if err != nil {
		h.logResult(c, "import", key, false, started, err)
		return h.writeError(c, err)
	}

	h.logResult(c, "import", key, false, started, nil)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"key":  key,
		"path": path,
		"mode": mode.String(),
	})
}

func (h *Handler) deleteObject(c fiber.Ctx) error {
	started := time.Now()
	key := c.Params("key")
	if err := h.index.Remove(key); err != nil {
		h.logResult(c, "delete", key, false, started, err)
		return h.writeError(c, err)
	}
	h.logResult(c, "delete", key, false, started, nil)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) lookupKey(c fiber.Ctx) error {
	id := c.Query("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id_required"})
	}
	key := h.hasher.Hash(id)
	path, err := h.index.Mapper().Path(key)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"id":     id,
		"key":    key,
		"path":   path,
		"cached": h.index.Contains(key),
	})
}

// fetch 以完整上游 URL 的哈希作为 key：命中直接返回，未命中时回源落盘后再返回。
// 同一 key 的并发未命中通过 singleflight 合并为一次上游请求。
func (h *Handler) fetch(c fiber.Ctx) error {
	started := time.Now()
	rest := strings.TrimLeft(c.Params("*"), "/")
	if rest == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path_required"})
	}
	target := h.upstream + "/" + rest
	if query := string(c.Request().URI().QueryString()); query != "" {
		target += "?" + query
	}
	key := h.hasher.Hash(target)

	path, err := h.index.Get(key)
	switch {
	case err == nil:
		h.logResult(c, "fetch", key, true, started, nil)
		return h.serveFile(c, key, path, true)
	case errors.Is(err, cache.ErrNotFound), errors.Is(err, cache.ErrInconsistentCache):
	default:
		h.logResult(c, "fetch", key, false, started, err)
		return h.writeError(c, err)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	headers := fiberHeadersAsHTTP(c)
	value, err, shared := h.fetches.Do(key, func() (interface{}, error) {
		// 前一轮回源可能在本次 Get 之后才写入；Contains 不计入命中统计。
		if h.index.Contains(key) {
			if path, err := h.index.Get(key); err == nil {
				return path, nil
			}
		}
		return h.fill(ctx, target, key, headers)
	})
	if err != nil {
		h.logResult(c, "fetch", key, false, started, err)
		var upstreamErr *upstreamStatusError
		if errors.As(err, &upstreamErr) || errors.Is(err, cache.ErrNotReady) || errors.Is(err, errRateLimited) {
			return h.writeError(c, err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	h.logger.WithFields(logrus.Fields{
		"action":   "fetch",
		"key":      key,
		"upstream": target,
		"shared":   shared,
	}).Debug("fetch_filled")
	h.logResult(c, "fetch", key, false, started, nil)
	return h.serveFile(c, key, value.(string), false)
}

// fill 回源并把响应体落入缓存，返回缓存文件路径。
func (h *Handler) fill(ctx context.Context, target, key string, headers http.Header) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return "", err
	}
	server.CopyHeaders(req.Header, headers)

	if h.limiter != nil && !h.limiter.Allow() {
		return "", errRateLimited
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &upstreamStatusError{status: resp.StatusCode}
	}

	stage, err := h.spool(resp.Body, "")
	if err != nil {
		return "", err
	}
	path, err := h.index.Add(stage, key, cache.ModeMove)
	if err != nil {
		_ = os.Remove(stage)
		return "", err
	}
	return path, nil
}

// spool 把 body 写入 .incoming 下的唯一暂存文件；want 非空时同时校验摘要。
func (h *Handler) spool(body io.Reader, want digest.Digest) (string, error) {
	if err := os.MkdirAll(h.incoming, 0o755); err != nil {
		return "", fmt.Errorf("create incoming dir: %w", err)
	}
	stage := filepath.Join(h.incoming, spoolPrefix+uuid.NewString())
	file, err := os.OpenFile(stage, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}

	var writer io.Writer = file
	var verifier digest.Verifier
	if want != "" {
		verifier = want.Verifier()
		writer = io.MultiWriter(file, verifier)
	}

	_, copyErr := io.Copy(writer, body)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(stage)
		return "", fmt.Errorf("write staging file: %w", err)
	}
	if verifier != nil && !verifier.Verified() {
		_ = os.Remove(stage)
		return "", fmt.Errorf("%w: expected %s", errDigestMismatch, want)
	}
	return stage, nil
}

// resolveImport 把请求中的源路径限制在 ImportRoot 之内，相对路径以 ImportRoot 为基准。
func (h *Handler) resolveImport(source string) (string, error) {
	src := source
	if !filepath.IsAbs(src) {
		src = filepath.Join(h.importRoot, src)
	}
	src = resolveLinks(filepath.Clean(src))

	rel, err := filepath.Rel(h.importRoot, src)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", errOutsideRoot, source)
	}
	return src, nil
}

func (h *Handler) serveFile(c fiber.Ctx, key, path string, hit bool) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return h.writeError(c, cache.ErrNotFound)
		}
		return h.writeError(c, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return h.writeError(c, err)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set("X-Cache-Key", key)
	c.Set("X-Cache-Hit", strconv.FormatBool(hit))
	c.Set(fiber.HeaderLastModified, info.ModTime().UTC().Format(http.TimeFormat))
	c.Status(fiber.StatusOK)

	if c.Method() == http.MethodHead {
		file.Close()
		c.Response().Header.SetContentLength(int(info.Size()))
		return nil
	}
	return c.SendStream(file, int(info.Size()))
}

func (h *Handler) writeError(c fiber.Ctx, err error) error {
	status, code := statusFor(err)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(c fiber.Ctx, action, key string, hit bool, started time.Time, err error) {
	fields := logging.RequestFields(server.RequestID(c), c.Method(), key, hit)
	fields["action"] = action
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		if status, _ := statusFor(err); status >= fiber.StatusInternalServerError {
			h.logger.WithFields(fields).Error("object_failed")
			return
		}
		h.logger.WithFields(fields).Info("object_rejected")
		return
	}
	h.logger.WithFields(fields).Info("object_complete")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	headers := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})
	return headers
}

func resolveLinks(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
