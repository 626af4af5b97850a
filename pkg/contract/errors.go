package contract

import (
	"errors"
	"fmt"
)

// 最小错误分类（哨兵）。
var (
	// ErrMalformedLine: 行不是恰好两个整数（仅严格模式下作为错误返回）。
	ErrMalformedLine = errors.New("malformed line")
	// ErrHeaderInvalid: 缺少头部或头部格式不符合 "N N E"。
	ErrHeaderInvalid = errors.New("header invalid")
	// ErrHeaderMismatch: 头部与正文统计不一致。
	ErrHeaderMismatch = errors.New("header mismatch")
	// ErrIDOverflow: 节点号加一后溢出 int64。
	ErrIDOverflow = errors.New("node id overflow")
	// ErrPathInvalid: 路径无效（例如备份目录与输入目录重合）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)

// Step: 单文件流水线中的阶段名。
type Step string

const (
	StepEnumerate Step = "enumerate"
	StepBackup    Step = "backup"
	StepDetect    Step = "detect"
	StepReindex   Step = "reindex"
	StepCount     Step = "count"
	StepHeader    Step = "header"
	StepVerify    Step = "verify"
)

// StepError 标识失败的文件与阶段。
type StepError struct {
	Path string
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Step, e.Path, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// LineError 指出严格模式下的畸形行（行号自 1 起）。
type LineError struct {
	Line int64
	Text string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Text, ErrMalformedLine)
}

func (e *LineError) Unwrap() error { return ErrMalformedLine }
