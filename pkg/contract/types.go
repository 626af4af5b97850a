package contract

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// FileID: 逻辑文件ID（调用方给出的路径，经规范化，跨平台一致）。
type FileID string

// Edge: 单行解析得到的一条边（未做任何归一化）。仅在扫描期间存在。
type Edge struct {
	Src int64
	Dst int64
}

// Header: 归一化头部 "N N E"。
// Nodes 为归一化后出现的最大节点号；Edges 为有效边行数。
type Header struct {
	Nodes int64
	Edges int64
}

// String 渲染为下游读取器期望的头部行（不含换行）。
func (h Header) String() string {
	return fmt.Sprintf("%d %d %d", h.Nodes, h.Nodes, h.Edges)
}

// Entry: Reader 枚举出的候选图文件。
// ID 为调用方视角的路径；Path 为实际读写的路径（符号链接已解析）。
// SkipReason 非空表示该文件不可处理（例如不可读），仅用于报告。
type Entry struct {
	ID         FileID
	Path       string
	Mode       fs.FileMode
	SkipReason string
}

// FileResult: 单文件处理结果。
type FileResult struct {
	ID   FileID
	Path string
	// ZeroBased: 检测到 0 号节点（输入为 0 基）。
	ZeroBased bool
	// Rewritten: 正文是否被重写（重编号或 compact）。
	Rewritten bool
	Header    Header
	// Malformed: 输入中被跳过的畸形行数（诊断用，不影响默认行为）。
	Malformed int64
	// Backup: 快照文件路径（未启用时为空）。
	Backup  string
	Skipped string
	Step    Step
	Err     error
}

// OK 报告该文件是否完整走完流程。
func (r FileResult) OK() bool { return r.Err == nil && r.Skipped == "" }

// Report: 一次批处理的结果（按枚举顺序）。
type Report struct {
	Files    []FileResult
	Started  time.Time
	Duration time.Duration
}

// Failed 返回失败的文件结果。
func (r Report) Failed() []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// Processed 返回成功处理的文件数。
func (r Report) Processed() int {
	n := 0
	for _, f := range r.Files {
		if f.OK() {
			n++
		}
	}
	return n
}

// Err 汇总所有文件错误；无错误时为 nil。
func (r Report) Err() error {
	var errs []error
	for _, f := range r.Files {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errors.Join(errs...)
}
