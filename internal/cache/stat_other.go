//go:build !linux

package cache

import "os"

// 非 linux 平台拿不到 st_blocks，按文件长度估算块数。
func statPath(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Blocks:  blocksFor(info.Size()),
		ModTime: info.ModTime(),
	}, nil
}
