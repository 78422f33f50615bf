package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration 表示缓存目录缺失或参数非法，Index 无法使用。
	ErrInvalidConfiguration = errors.New("invalid cache configuration")
	// ErrInvalidKey 表示 hash 不满足最小长度或包含非十六进制字符。
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrNotFound 表示索引中不存在该 hash，属于正常的未命中结果。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInconsistentCache 表示索引记录存在但磁盘文件缺失，应执行 Resync 恢复。
	ErrInconsistentCache = errors.New("cache index and disk diverged")
	// ErrCorruptTree 表示分片目录中出现了无法识别的文件系统对象。
	ErrCorruptTree = errors.New("corrupt cache tree")
	// ErrNotReady 表示上一次 Resync 失败，索引在重新同步成功前拒绝读写。
	ErrNotReady = errors.New("cache index not ready")
	// ErrNotRegularFile 表示 Add 的源路径不是普通文件（目录、符号链接、设备等）。
	ErrNotRegularFile = errors.New("source is not a regular file")
)

// TransferError 包装 Transfer/源文件 stat 失败的底层原因；返回该错误时索引未被修改。
type TransferError struct {
	Op  string
	Src string
	Dst string
	Err error
}

func (e *TransferError) Error() string {
	if e.Dst == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Src, e.Err)
	}
	return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.Src, e.Dst, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func newTransferError(op, src, dst string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransferError
	if errors.As(err, &te) {
		return err
	}
	return &TransferError{Op: op, Src: src, Dst: dst, Err: err}
}
