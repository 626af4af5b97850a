//go:build !windows

package filesystem

import "os"

// osReplace: POSIX 下 rename(2) 在同一文件系统内是原子的。
func osReplace(tmpPath, dest string) error {
	return os.Rename(tmpPath, dest)
}

// syncDir 尽力 fsync 父目录，使 rename 的元数据落盘。
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
