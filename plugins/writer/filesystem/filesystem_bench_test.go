package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

// BenchmarkWrite 不同输入尺寸下测量原子替换的写入性能。
func BenchmarkWrite(b *testing.B) {
	sizes := []int{1024, 1024 * 1024}
	for _, sz := range sizes {
		b.Run(fmt.Sprintf("size=%d", sz), func(b *testing.B) {
			data := bytes.Repeat([]byte("1 2\n"), sz/4)
			dest := filepath.Join(b.TempDir(), "g.txt")
			w, err := New(&Options{Sync: noSync()})
			if err != nil {
				b.Fatalf("创建 Writer 失败: %v", err)
			}
			ctx := context.Background()
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if err := w.Write(ctx, dest, bytes.NewReader(data)); err != nil {
					b.Fatalf("写入失败: %v", err)
				}
			}
		})
	}
}
