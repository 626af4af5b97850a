package edgelist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"graphnorm/pkg/contract"
)

// Verify 按下游读取器的约定检查已归一化文件：
// 跳过前导空行与以 '%' 开头的注释行；首个有效行须为 "r c e"，
// 且 r==c、e>=0、r>=1（空图 "0 0 0" 除外）；正文统计须与头部一致。
func Verify(ctx context.Context, path string, opts Options) (contract.Header, error) {
	if err := ctx.Err(); err != nil {
		return contract.Header{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return contract.Header{}, err
	}
	defer f.Close()
	br := bufio.NewReader(f)

	h, err := readHeader(br)
	if err != nil {
		return contract.Header{}, err
	}
	var body contract.Header
	st, err := Scan(ctx, br, opts, func(e contract.Edge) error {
		if e.Src > body.Nodes {
			body.Nodes = e.Src
		}
		if e.Dst > body.Nodes {
			body.Nodes = e.Dst
		}
		return nil
	})
	if err != nil {
		return h, err
	}
	body.Edges = st.Valid
	if body != h {
		return h, fmt.Errorf("%w: header %q, body %q", contract.ErrHeaderMismatch, h.String(), body.String())
	}
	return h, nil
}

// readHeader 消费注释与空行，解析首个有效行。
func readHeader(br *bufio.Reader) (contract.Header, error) {
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return contract.Header{}, err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "%") {
			if err == io.EOF {
				return contract.Header{}, fmt.Errorf("%w: missing header", contract.ErrHeaderInvalid)
			}
			continue
		}
		return parseHeader(trimmed)
	}
}

func parseHeader(line string) (contract.Header, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return contract.Header{}, fmt.Errorf("%w: %q", contract.ErrHeaderInvalid, line)
	}
	var v [3]int64
	for i, s := range fields {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return contract.Header{}, fmt.Errorf("%w: %q", contract.ErrHeaderInvalid, line)
		}
		v[i] = n
	}
	r, c, e := v[0], v[1], v[2]
	if r != c || e < 0 || r < 0 {
		return contract.Header{}, fmt.Errorf("%w: %q", contract.ErrHeaderInvalid, line)
	}
	if r == 0 && e != 0 {
		return contract.Header{}, fmt.Errorf("%w: %q", contract.ErrHeaderInvalid, line)
	}
	return contract.Header{Nodes: r, Edges: e}, nil
}
