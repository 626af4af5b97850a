package edgelist

import (
	"context"
	"io"

	"graphnorm/pkg/contract"
)

// DetectZero 报告文件中是否存在值为 0 的节点号（即输入为 0 基）。
// 找到首个 0 即返回；只读。
func DetectZero(ctx context.Context, path string, opts Options) (bool, error) {
	found := false
	_, err := scanFile(ctx, path, opts, func(e contract.Edge) error {
		if e.Src == 0 || e.Dst == 0 {
			found = true
			return io.EOF
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
