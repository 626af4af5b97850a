package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"graphnorm/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// Recursive: 目录根是否递归子目录。默认 false：仅枚举直接子项，子目录跳过。
	Recursive bool `json:"recursive"`
	// ExcludeDirNames: 递归时跳过这些目录名（基名，大小写不敏感）。
	// 例如 [".git","backup"]。仅在 Recursive=true 时生效。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// FileSystem 实现基于本地文件系统的候选文件枚举。
type FileSystem struct {
	recursive  bool
	excludeDir map[string]struct{}
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	ex := make(map[string]struct{})
	r := &FileSystem{excludeDir: ex}
	if opts == nil {
		return r
	}
	r.recursive = opts.Recursive
	for _, name := range opts.ExcludeDirNames {
		if name = strings.Trim(strings.TrimSpace(name), `/\`); name != "" {
			ex[strings.ToLower(name)] = struct{}{}
		}
	}
	return r
}

var _ contract.Reader = (*FileSystem)(nil)

// Iterate 遍历 roots，按稳定顺序对每个候选文件调用 yield。
// 根不存在时返回错误；根为非常规文件（设备、管道等）时忽略。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(e contract.Entry) error) error {
	if len(roots) == 0 {
		return fmt.Errorf("no input roots")
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.Entry) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// 根路径为用户显式给出：符号链接（含指向目录的）一律跟随
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.emit(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.Entry) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 递归模式：先目录（不跟随目录符号链接）
	if r.recursive {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
				continue
			}
			if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
				return err
			}
		}
	}
	// 再文件（允许指向常规文件的符号链接；其余非常规项忽略）
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if e.IsDir() || strings.HasPrefix(e.Name(), contract.TempPrefix) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil || !t.Mode().IsRegular() {
				// 悬空链接或指向目录/设备：忽略
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if err := r.emit(p, yield); err != nil {
			return err
		}
	}
	return nil
}

// emit 解析实际路径并探测可读性后回调。
func (r *FileSystem) emit(p string, yield func(contract.Entry) error) error {
	ent := contract.Entry{ID: contract.NormalizeFileID(p), Path: p}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		ent.SkipReason = "unresolvable: " + err.Error()
		return yield(ent)
	}
	ent.Path = real
	st, err := os.Stat(real)
	if err != nil {
		ent.SkipReason = "unreadable: " + err.Error()
		return yield(ent)
	}
	ent.Mode = st.Mode()
	f, err := os.Open(real)
	if err != nil {
		ent.SkipReason = "unreadable: " + err.Error()
		return yield(ent)
	}
	_ = f.Close()
	return yield(ent)
}
