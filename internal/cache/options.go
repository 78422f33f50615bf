package cache

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxBytes 是未配置时的容量上限（1 GiB）。
const DefaultMaxBytes int64 = 1 << 30

// Eviction 描述一次因容量超限触发的淘汰，Err 非空表示磁盘文件删除失败。
type Eviction struct {
	Hash   string
	Blocks int64
	Err    error
}

// Option 配置 Index。
type Option func(*Index)

// WithShardDepth 设置分片目录层数，默认 3。
func WithShardDepth(depth int) Option {
	return func(x *Index) {
		x.depth = depth
	}
}

// WithMaxBytes 设置容量上限（字节），内部按 512 字节块存储。
func WithMaxBytes(n int64) Option {
	return func(x *Index) {
		x.maxBytes = n
	}
}

// WithFilesystem 替换元数据操作实现，主要用于测试注入故障。
func WithFilesystem(fsys Filesystem) Option {
	return func(x *Index) {
		if fsys != nil {
			x.fs = fsys
		}
	}
}

// WithTransfer 替换 copy/move/link 的实现。
func WithTransfer(t Transfer) Option {
	return func(x *Index) {
		if t != nil {
			x.transfer = t
		}
	}
}

// WithLogger 注入结构化日志；默认丢弃输出。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(x *Index) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// WithClock 替换时间源，测试中用于构造确定的访问顺序。
func WithClock(now func() time.Time) Option {
	return func(x *Index) {
		if now != nil {
			x.now = now
		}
	}
}

// WithEvictHook 在每次淘汰后同步回调，回调内不得再调用 Index 的方法。
func WithEvictHook(fn func(Eviction)) Option {
	return func(x *Index) {
		x.onEvict = fn
	}
}

// WithDirPerm 设置 OSFilesystem 创建分片目录时的权限。
func WithDirPerm(mode os.FileMode) Option {
	return func(x *Index) {
		if osfs, ok := x.fs.(OSFilesystem); ok {
			osfs.DirPerm = mode
			x.fs = osfs
		}
	}
}

func discardLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
