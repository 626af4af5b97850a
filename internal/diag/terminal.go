package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 进度单行 \r 覆盖；非 TTY: 每个文件完成时分行打印。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	concurrency int
	total       int
	done        int
	failed      int
	skipped     int
	runStart    time.Time

	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端指针（nil 可清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器。enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// RunStart 记录并发度与待处理文件数。
func (t *Terminal) RunStart(concurrency, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.concurrency = concurrency
	t.total = total
	t.done, t.failed, t.skipped = 0, 0, 0
	t.runStart = time.Now()
	t.println(fmt.Sprintf("[run] 并发=%d | 文件=%d", concurrency, total))
}

// FileSkip 记录被跳过的文件（总是分行打印）。
func (t *Terminal) FileSkip(fileID, reason string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done++
	t.skipped++
	t.clearInline()
	t.println(fmt.Sprintf("[skip] %s | %s", shortenBase(fileID, 48), safe(reason)))
	t.progress(false)
}

// FileFinish 记录单个文件完成。detail 为头部或错误摘要。
func (t *Terminal) FileFinish(fileID string, ok bool, detail string, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done++
	if !ok {
		t.failed++
	}
	// TTY 下仅失败分行；成功只刷新进度
	if !t.isTTY || !ok {
		status := "done"
		if !ok {
			status = "fail"
		}
		t.clearInline()
		t.println(fmt.Sprintf("[%s] %s | %s | %s", status, shortenBase(fileID, 48), safe(detail), formatDur(dur)))
	}
	t.progress(!ok)
}

// RunFinish 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	t.clearInline()
	t.println(fmt.Sprintf("[%s] 全部完成 | 文件 %d | 失败 %d | 跳过 %d | 总用时 %s",
		tag, t.done, t.failed, t.skipped, formatDur(dur)))
}

// progress 在 TTY 下刷新进度行（≥100ms 节流，force 跳过节流）。
func (t *Terminal) progress(force bool) {
	if !t.isTTY {
		return
	}
	now := time.Now()
	if !force && now.Sub(t.lastFlush) < 100*time.Millisecond && t.done < t.total {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[run] 进度 %d/%d | 错误 %d | 并发 %d | 用时 %s",
		t.done, t.total, t.failed, t.concurrency, formatSince(t.runStart)))
}

func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
		_, _ = io.WriteString(t.w, "\r")
	}
}

func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if visLen(base) <= max {
		return base
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	rs := []rune(base)
	return string(rs[:cut]) + "…"
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
