package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Mode 决定 Add 如何把源文件放入缓存。
type Mode int

const (
	// ModeCopy 保留源文件并复制字节（默认）。
	ModeCopy Mode = iota
	// ModeMove 将源文件移动进缓存，调用后源文件不复存在。
	ModeMove
	// ModeLink 创建硬链接；缓存文件与源共享 inode，块统计只是近似值。
	ModeLink
)

func (m Mode) String() string {
	switch m {
	case ModeMove:
		return "move"
	case ModeLink:
		return "link"
	default:
		return "copy"
	}
}

// ParseMode 解析配置/请求中的 copy|move|link，空字符串视为 copy。
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "copy":
		return ModeCopy, nil
	case "move":
		return ModeMove, nil
	case "link":
		return ModeLink, nil
	default:
		return ModeCopy, fmt.Errorf("unsupported transfer mode: %s", raw)
	}
}

// stagePrefix 标记 Copy 过程中的临时文件；Resync 遇到残留会直接清理。
const stagePrefix = ".stage-"

// Transfer 负责实际的字节搬运，失败时返回 *TransferError。
type Transfer interface {
	Copy(src, dst string) error
	Move(src, dst string) error
	Link(src, dst string) error
}

// OSTransfer 基于本地文件系统实现 Transfer。
type OSTransfer struct{}

// Copy 先写入同目录下的临时文件，再 rename 到目标，避免读者看到半写文件。
func (OSTransfer) Copy(src, dst string) error {
	if err := copyFile(src, dst); err != nil {
		return newTransferError("copy", src, dst, err)
	}
	return nil
}

// Move 优先 rename；跨设备时退化为复制后删除源文件。
func (OSTransfer) Move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return newTransferError("move", src, dst, err)
	}
	if err := copyFile(src, dst); err != nil {
		return newTransferError("move", src, dst, err)
	}
	if err := os.Remove(src); err != nil {
		return newTransferError("move", src, dst, err)
	}
	return nil
}

func (OSTransfer) Link(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		return newTransferError("link", src, dst, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tempFile, err := os.CreateTemp(filepath.Dir(dst), stagePrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = io.Copy(tempFile, in)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, dst); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func isStageFile(name string) bool {
	return strings.HasPrefix(name, stagePrefix)
}
