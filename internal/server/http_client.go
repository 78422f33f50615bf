package server

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/diskcache/internal/config"
)

const (
	defaultUpstreamTimeout = 30 * time.Second
	// 回源只面向单一 upstream，空闲连接全部留给同一个 host。
	upstreamIdleConns = 32
)

// newUpstreamTransport 构造回源 Transport。
// DisableCompression 保证落盘的是上游原始字节，而不是 net/http 透明解压后的内容。
func newUpstreamTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          upstreamIdleConns,
		MaxIdleConnsPerHost:   upstreamIdleConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: defaultUpstreamTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
}

// NewUpstreamClient 返回 /fetch 回源使用的 http.Client。
// UpstreamTimeout 覆盖整个请求（含响应体落盘），cfg 为 nil 时使用默认值。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil && cfg.Cache.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Cache.UpstreamTimeout.DurationValue()
	}

	transport := newUpstreamTransport()
	if timeout < transport.ResponseHeaderTimeout {
		transport.ResponseHeaderTimeout = timeout
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// skipForwardHeaders 是客户端请求中不能带到回源请求里的头。
// 前半部分是 RFC 7230 的逐跳字段；后半部分会让上游返回部分内容、304 或压缩体，
// 这类响应不能作为完整对象写入缓存。
var skipForwardHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},

	"Host":              {},
	"Content-Length":    {},
	"Accept-Encoding":   {},
	"Range":             {},
	"If-Range":          {},
	"If-None-Match":     {},
	"If-Modified-Since": {},
}

// CopyHeaders 把客户端请求头复制进回源请求，跳过 skipForwardHeaders 中的字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if _, skip := skipForwardHeaders[textproto.CanonicalMIMEHeaderKey(key)]; skip {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
