// Package backup 在首次改写前为图文件保存 zstd 压缩快照，并支持恢复。
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/DataDog/zstd"

	"graphnorm/pkg/contract"
)

// DefaultLevel: 未指定压缩级别时使用。
const DefaultLevel = 3

// 快照文件扩展名
const ext = ".zst"

// Snapshotter 把原始字节压缩写入 dir/<FileID.Flatten()>.zst。
// 写入经 contract.Writer 原子完成。
type Snapshotter struct {
	dir   string
	level int
	w     contract.Writer
}

// New 校验参数并构造 Snapshotter。level=0 使用 DefaultLevel；合法范围 1..22。
func New(dir string, level int, w contract.Writer) (*Snapshotter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("backup dir: %w", contract.ErrPathInvalid)
	}
	if w == nil {
		return nil, errors.New("backup: writer is nil")
	}
	if level == 0 {
		level = DefaultLevel
	}
	if level < 1 || level > 22 {
		return nil, fmt.Errorf("backup level %d out of range 1..22", level)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Snapshotter{dir: abs, level: level, w: w}, nil
}

// Dir 返回快照目录（绝对路径）。
func (s *Snapshotter) Dir() string { return s.dir }

// Path 返回 id 对应的快照路径。
func (s *Snapshotter) Path(id contract.FileID) string {
	return filepath.Join(s.dir, id.Flatten()+ext)
}

// Snapshot 压缩 e.Path 的当前内容并写入快照；返回快照路径。
func (s *Snapshotter) Snapshot(ctx context.Context, e contract.Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst := s.Path(e.ID)
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := compress(pw, e.Path, s.level)
		_ = pw.CloseWithError(err)
		done <- err
	}()
	werr := s.w.Write(ctx, dst, pr)
	_ = pr.CloseWithError(io.ErrClosedPipe)
	serr := <-done
	if werr != nil {
		return "", werr
	}
	if serr != nil {
		return "", serr
	}
	return dst, nil
}

func compress(w io.Writer, src string, level int) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	zw := zstd.NewWriterLevel(w, level)
	_, err = io.Copy(zw, f)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	return err
}

// Restore 解压 snapshot 并原子覆盖 dest。
func (s *Snapshotter) Restore(ctx context.Context, snapshot, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(snapshot)
	if err != nil {
		return err
	}
	defer f.Close()
	zr := zstd.NewReader(f)
	defer zr.Close()
	if err := s.w.Write(ctx, dest, zr); err != nil {
		return fmt.Errorf("restore %s: %w", dest, err)
	}
	return nil
}

// Overlaps 报告快照目录是否落在某个输入目录之内（含相等），
// 以免递归枚举把快照当作图文件。文件输入只与其父目录比较是否相等。
func (s *Snapshotter) Overlaps(inputs []string) (string, bool) {
	bd := resolve(s.dir)
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			continue
		}
		p := resolve(abs)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			if filepath.Dir(p) == bd {
				return in, true
			}
			continue
		}
		if within(bd, p) {
			return in, true
		}
	}
	return "", false
}

// resolve 解析 p 中已存在部分的符号链接；尚未创建的尾部原样拼回。
func resolve(p string) string {
	var rest []string
	for cur := p; ; {
		if r, err := filepath.EvalSymlinks(cur); err == nil {
			return filepath.Join(append([]string{r}, rest...)...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// within 报告 p 是否等于 dir 或位于其下。
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
