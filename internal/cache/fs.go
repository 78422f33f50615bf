package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// BlockSize 是容量统计使用的块大小，与 st_blocks 的单位一致。
const BlockSize = 512

// EntryType 区分目录遍历时遇到的对象类型。
type EntryType int

const (
	EntryOther EntryType = iota
	EntryFile
	EntryDir
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDir:
		return "dir"
	default:
		return "other"
	}
}

// FileInfo 只保留索引关心的元数据：块数与修改时间。
type FileInfo struct {
	Blocks  int64
	ModTime time.Time
}

// DirEntry 描述 ListEntries 返回的单个子项。
type DirEntry struct {
	Name string
	Type EntryType
}

// Filesystem 抽象索引依赖的元数据操作，测试中可替换为故障注入实现。
type Filesystem interface {
	Exists(path string) bool
	Stat(path string) (FileInfo, error)
	// Kind 不跟随符号链接，返回 path 自身的类型。
	Kind(path string) (EntryType, error)
	ListEntries(dir string) ([]DirEntry, error)
	MakeDirs(path string) error
	Unlink(path string) error
}

// OSFilesystem 基于本地文件系统实现 Filesystem，块数直接读取 st_blocks。
type OSFilesystem struct {
	DirPerm os.FileMode
}

// NewOSFilesystem 返回默认目录权限为 0755 的实现。
func NewOSFilesystem() OSFilesystem {
	return OSFilesystem{DirPerm: 0o755}
}

func (OSFilesystem) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (OSFilesystem) Stat(path string) (FileInfo, error) {
	return statPath(path)
}

func (OSFilesystem) Kind(path string) (EntryType, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return EntryOther, err
	}
	return entryTypeOf(info.Mode().Type()), nil
}

func (OSFilesystem) ListEntries(dir string) ([]DirEntry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	result := make([]DirEntry, 0, len(items))
	for _, item := range items {
		result = append(result, DirEntry{Name: item.Name(), Type: entryTypeOf(item.Type())})
	}
	return result, nil
}

func (f OSFilesystem) MakeDirs(path string) error {
	perm := f.DirPerm
	if perm == 0 {
		perm = 0o755
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	return nil
}

func (OSFilesystem) Unlink(path string) error {
	return os.Remove(path)
}

func entryTypeOf(mode fs.FileMode) EntryType {
	switch {
	case mode.IsRegular():
		return EntryFile
	case mode.IsDir():
		return EntryDir
	default:
		return EntryOther
	}
}

// blocksFor 将字节数换算为 512 字节块，向上取整。
func blocksFor(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + BlockSize - 1) / BlockSize
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
