package diag

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"graphnorm/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeIO        Code = "io"
	CodeCancel    Code = "cancel"
	CodeFormat    Code = "format"
	CodeInvariant Code = "invariant"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrMalformedLine) ||
		errors.Is(err, contract.ErrHeaderInvalid) ||
		errors.Is(err, contract.ErrHeaderMismatch) {
		return CodeFormat
	}
	if errors.Is(err, contract.ErrIDOverflow) ||
		errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrInvariantViolation) {
		return CodeInvariant
	}
	var perr *fs.PathError
	var lerr *os.LinkError
	var serr *os.SyscallError
	if errors.As(err, &perr) || errors.As(err, &lerr) || errors.As(err, &serr) {
		return CodeIO
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
