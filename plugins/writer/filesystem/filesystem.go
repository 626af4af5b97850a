package filesystem

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"graphnorm/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// BufSize: 写缓冲区大小；<=0 使用实现默认（64KiB）。
	BufSize int `json:"buf_size,omitempty"`
	// PermFile: 新建文件权限；为 0 时沿用目标已有权限，目标不存在则 0644。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	// PermDir: 父目录不存在时的创建权限；为 0 表示 0755。
	PermDir os.FileMode `json:"perm_dir,omitempty"`
	// Sync: 替换前是否 fsync 临时文件。默认 true；显式 false 可关闭（测试/基准）。
	Sync *bool `json:"sync,omitempty"`
}

// FS 以“同目录临时文件 + rename”实现原地原子替换。
type FS struct {
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	sync    bool
}

// New 创建文件系统 Writer 实现。opts 可为 nil。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.BufSize < 0 {
		return nil, os.ErrInvalid
	}
	bsz := opts.BufSize
	if bsz == 0 {
		bsz = 64 * 1024
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	sync := true
	if opts.Sync != nil {
		sync = *opts.Sync
	}
	return &FS{permF: opts.PermFile, permD: pd, bufSize: bsz, sync: sync}, nil
}

var _ contract.Writer = (*FS)(nil)

// Write 将 r 的全部字节原子替换到 path。
func (w *FS) Write(ctx context.Context, path string, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dest, err := checkPath(path)
	if err != nil {
		return err
	}
	perm, err := w.targetPerm(dest)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	return w.writeAtomic(ctx, dest, perm, r)
}

// checkPath: Clean + 拒绝空路径与目录。
func checkPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", contract.ErrPathInvalid
	}
	dest := filepath.Clean(p)
	if dest == "." || dest == ".." || strings.HasSuffix(p, string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return dest, nil
}

// targetPerm: 优先显式配置，其次沿用目标已有权限。
func (w *FS) targetPerm(dest string) (os.FileMode, error) {
	if w.permF != 0 {
		return w.permF, nil
	}
	st, err := os.Stat(dest)
	switch {
	case err == nil && st.IsDir():
		return 0, contract.ErrPathInvalid
	case err == nil:
		return st.Mode().Perm(), nil
	case errors.Is(err, fs.ErrNotExist):
		return 0o644, nil
	default:
		return 0, err
	}
}

func (w *FS) writeAtomic(ctx context.Context, dest string, perm os.FileMode, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, contract.TempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	// 失败路径统一清理临时文件
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(perm); err != nil && !errors.Is(err, errors.ErrUnsupported) {
		return fail(err)
	}

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if w.sync {
		if err := tmp.Sync(); err != nil {
			return fail(err)
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最后一次检查：取消后不再提升临时文件
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if w.sync {
		_ = syncDir(dir)
	}
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
