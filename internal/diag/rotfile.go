package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	logPrefix   = "graphnorm"
	currentName = logPrefix + "-current.txt"
	// keepRotated: 轮转后保留的历史文件数。
	keepRotated = 5
)

// RotatingFile 是按大小轮转的行日志目标（并发安全）。
// 当前文件为 graphnorm-current.txt；写入将超过 limit 时改名为
// graphnorm-<UTC 纳秒时间戳>.txt，并只保留最近 keepRotated 个历史文件。
type RotatingFile struct {
	mu    sync.Mutex
	dir   string
	limit int64
	keep  int
	f     *os.File
	size  int64
}

func NewRotatingFile(dir string, limit int64) *RotatingFile {
	if limit <= 0 {
		limit = 10 << 20
	}
	return &RotatingFile{dir: dir, limit: limit, keep: keepRotated}
}

// WriteLine 追加一行（自动补换行）。
func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return err
	}
	need := int64(len(b)) + 1
	if w.size > 0 && w.size+need > w.limit {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	line := make([]byte, 0, need)
	line = append(append(line, b...), '\n')
	n, err := w.f.Write(line)
	w.size += int64(n)
	return err
}

func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, currentName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	_ = w.f.Close()
	w.f = nil
	stamp := time.Now().UTC().Format("20060102-150405.000000000")
	dst := filepath.Join(w.dir, fmt.Sprintf("%s-%s.txt", logPrefix, stamp))
	if err := os.Rename(filepath.Join(w.dir, currentName), dst); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune 删除超出保留数的最旧历史文件；失败忽略。
func (w *RotatingFile) prune() {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var old []string
	for _, e := range ents {
		n := e.Name()
		if n == currentName || e.IsDir() {
			continue
		}
		if strings.HasPrefix(n, logPrefix+"-") && strings.HasSuffix(n, ".txt") {
			old = append(old, n)
		}
	}
	if len(old) <= w.keep {
		return
	}
	// 时间戳定长，字典序即时间序
	sort.Strings(old)
	for _, n := range old[:len(old)-w.keep] {
		_ = os.Remove(filepath.Join(w.dir, n))
	}
}

// Close 关闭当前文件；可重复调用。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
