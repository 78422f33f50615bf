//go:build linux

package cache

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

func statPath(path string) (FileInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return FileInfo{}, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return FileInfo{
		Blocks:  int64(st.Blocks),
		ModTime: time.Unix(st.Mtim.Unix()),
	}, nil
}
