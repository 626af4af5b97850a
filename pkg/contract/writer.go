package contract

import (
	"context"
	"io"
)

// TempPrefix: 原子写临时文件的名字前缀；枚举时应忽略此类文件（中断遗留）。
const TempPrefix = ".tmp-"

// Writer: 以原子替换的方式将 r 的全部字节写到 path。
// 约束：
//  1. 同一 path 单写者；
//  2. 失败时目标保持原样，临时文件不得残留；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, path string, r io.Reader) error
}
