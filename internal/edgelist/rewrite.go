package edgelist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"

	"graphnorm/pkg/contract"
)

// Reindex 将每条有效边的两个节点号各加 1，按原顺序写回；畸形行被丢弃。
// 写入经 Writer 原子替换，失败时原文件保持不变。
func Reindex(ctx context.Context, w contract.Writer, path string, opts Options) (Stats, error) {
	return Rewrite(ctx, w, path, 1, opts)
}

// Rewrite 以 delta 平移所有节点号并规范化为 "src dst" 行。
// delta=0 时仅丢弃畸形行（compact）。
func Rewrite(ctx context.Context, w contract.Writer, path string, delta int64, opts Options) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	pr, pw := io.Pipe()
	var st Stats
	done := make(chan error, 1)
	go func() {
		bw := bufio.NewWriterSize(pw, 64*1024)
		var buf []byte
		s, err := scanFile(ctx, path, opts, func(e contract.Edge) error {
			src, err := shift(e.Src, delta)
			if err != nil {
				return err
			}
			dst, err := shift(e.Dst, delta)
			if err != nil {
				return err
			}
			buf = strconv.AppendInt(buf[:0], src, 10)
			buf = append(buf, ' ')
			buf = strconv.AppendInt(buf, dst, 10)
			buf = append(buf, '\n')
			_, err = bw.Write(buf)
			return err
		})
		if err == nil {
			err = bw.Flush()
		}
		st = s
		// 出错时以错误关闭管道，Writer 侧 io.Copy 失败并放弃临时文件。
		_ = pw.CloseWithError(err)
		done <- err
	}()
	werr := w.Write(ctx, path, pr)
	// Writer 可能未读完即返回；关闭读端以释放生产者。
	_ = pr.CloseWithError(io.ErrClosedPipe)
	serr := <-done
	// 生产者错误经管道传给 Writer，werr 已包含它。
	if werr != nil {
		return st, werr
	}
	return st, serr
}

func shift(id, delta int64) (int64, error) {
	if delta > 0 && id > math.MaxInt64-delta {
		return 0, fmt.Errorf("%w: %d+%d", contract.ErrIDOverflow, id, delta)
	}
	if delta < 0 && id < math.MinInt64-delta {
		return 0, fmt.Errorf("%w: %d%d", contract.ErrIDOverflow, id, delta)
	}
	return id + delta, nil
}
