// Package edgelist 实现边列表文件的逐行扫描、0 基检测、重编号、计数与头部注入。
// 所有操作均为无状态、按单文件执行；并发与批处理由 pipeline 负责。
package edgelist

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"graphnorm/pkg/contract"
)

// ctxCheckEvery: 扫描时每隔多少行检查一次 ctx。
const ctxCheckEvery = 4096

// maxLineBytes: 单行上限；超长行按畸形行处理，余下部分被丢弃。
const maxLineBytes = 1 << 20

// maxErrText: LineError 中保留的行内容上限。
const maxErrText = 128

// Options: 解析策略。
type Options struct {
	// Strict: 畸形行视为错误（默认宽松：静默跳过）。
	Strict bool
	// BufSize: 读缓冲大小；<=0 使用 64KiB。
	BufSize int
}

// Stats: 一次扫描的统计。
type Stats struct {
	Valid   int64
	Skipped int64
}

// Scan 逐行读取 r，对每条有效边调用 fn。
// 空行总是跳过；非恰好两个整数的行（含超过 maxLineBytes 的行）在宽松模式下计入 Skipped，
// 严格模式下返回 *contract.LineError。
// fn 返回 io.EOF 时提前结束且不视为错误。
func Scan(ctx context.Context, r io.Reader, opts Options, fn func(e contract.Edge) error) (Stats, error) {
	var st Stats
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	br := bufio.NewReaderSize(r, bsz)
	var buf []byte
	var lineNo int64
	for {
		line, long, rerr := readLine(br, buf[:0])
		buf = line
		if rerr != nil && rerr != io.EOF {
			return st, rerr
		}
		if len(line) == 0 && !long && rerr == io.EOF {
			return st, nil
		}
		lineNo++
		if lineNo%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return st, err
			}
		}
		var e contract.Edge
		var ok, blank bool
		if !long {
			e, ok, blank = parseLine(string(line))
		}
		if blank {
			if rerr == io.EOF {
				return st, nil
			}
			continue
		}
		if !ok {
			if opts.Strict {
				return st, &contract.LineError{Line: lineNo, Text: errText(line, long)}
			}
			st.Skipped++
		} else {
			st.Valid++
			if err := fn(e); err != nil {
				if err == io.EOF {
					return st, nil
				}
				return st, err
			}
		}
		if rerr == io.EOF {
			return st, nil
		}
	}
}

// readLine 读取一行（不含换行符）追加到 buf。
// 超过 maxLineBytes 时 long=true，仅保留前 maxLineBytes 字节，其余读取后丢弃。
func readLine(br *bufio.Reader, buf []byte) (line []byte, long bool, err error) {
	for {
		frag, err := br.ReadSlice('\n')
		if err == nil {
			frag = frag[:len(frag)-1]
		}
		if !long {
			if len(buf)+len(frag) > maxLineBytes {
				long = true
				buf = append(buf, frag[:maxLineBytes-len(buf)]...)
			} else {
				buf = append(buf, frag...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return buf, long, err
	}
}

func errText(line []byte, long bool) string {
	s := strings.TrimRight(string(line), "\r")
	if long || len(s) > maxErrText {
		return s[:min(len(s), maxErrText)] + "..."
	}
	return s
}

// parseLine 解析单行。blank=true 表示空白行（不计入畸形）。
func parseLine(line string) (e contract.Edge, ok bool, blank bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return e, false, true
	}
	if len(fields) != 2 {
		return e, false, false
	}
	src, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return e, false, false
	}
	dst, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return e, false, false
	}
	return contract.Edge{Src: src, Dst: dst}, true, false
}

// scanFile 打开 path 并扫描。
func scanFile(ctx context.Context, path string, opts Options, fn func(e contract.Edge) error) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return Scan(ctx, f, opts, fn)
}
