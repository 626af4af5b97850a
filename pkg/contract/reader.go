package contract

import "context"

// Reader: 候选图文件枚举（文件/目录）。
// 约束：
// 1) 仅枚举，不读取内容、不做解析；
// 2) 同一目录内按稳定（字典序）顺序回调；
// 3) 非常规文件静默跳过；不可读的常规文件以 SkipReason 回调；
// 4) 不在内部起并发。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(e Entry) error) error
}
