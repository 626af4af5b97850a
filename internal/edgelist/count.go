package edgelist

import (
	"context"

	"graphnorm/pkg/contract"
)

// Count 计算最大节点号与有效边行数。无有效行时返回 0 0。只读。
func Count(ctx context.Context, path string, opts Options) (contract.Header, Stats, error) {
	var h contract.Header
	st, err := scanFile(ctx, path, opts, func(e contract.Edge) error {
		if e.Src > h.Nodes {
			h.Nodes = e.Src
		}
		if e.Dst > h.Nodes {
			h.Nodes = e.Dst
		}
		return nil
	})
	if err != nil {
		return contract.Header{}, st, err
	}
	h.Edges = st.Valid
	return h, st, nil
}
