package edgelist

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"graphnorm/pkg/contract"
)

// WriteHeader 读取全部现有内容，在其前插入 "N N E" 头部行后写回原路径。
// 非幂等：重复调用会插入多行头部。
func WriteHeader(ctx context.Context, w contract.Writer, path string, h contract.Header) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r := io.MultiReader(strings.NewReader(h.String()+"\n"), bytes.NewReader(content))
	return w.Write(ctx, path, r)
}
