package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DataDog/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphnorm/pkg/contract"
	fsw "graphnorm/plugins/writer/filesystem"
)

func newSnap(t *testing.T, dir string) *Snapshotter {
	t.Helper()
	off := false
	w, err := fsw.New(&fsw.Options{Sync: &off})
	require.NoError(t, err)
	s, err := New(dir, 0, w)
	require.NoError(t, err)
	return s
}

func TestSnapshotAndRestore(t *testing.T) {
	in := t.TempDir()
	src := filepath.Join(in, "g.txt")
	orig := strings.Repeat("0 1\n1 2\n", 1000)
	require.NoError(t, os.WriteFile(src, []byte(orig), 0o644))

	s := newSnap(t, filepath.Join(t.TempDir(), "bak"))
	snap, err := s.Snapshot(context.Background(), contract.Entry{ID: "data/g.txt", Path: src})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "data__g.txt.zst"), snap)

	raw, err := os.ReadFile(snap)
	require.NoError(t, err)
	assert.Less(t, len(raw), len(orig))
	plain, err := zstd.Decompress(nil, raw)
	require.NoError(t, err)
	assert.Equal(t, orig, string(plain))

	require.NoError(t, os.WriteFile(src, []byte("changed\n"), 0o644))
	require.NoError(t, s.Restore(context.Background(), snap, src))
	b, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, orig, string(b))
}

func TestSnapshotEmptyFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(src, nil, 0o644))
	s := newSnap(t, t.TempDir())
	snap, err := s.Snapshot(context.Background(), contract.Entry{ID: "empty", Path: src})
	require.NoError(t, err)
	dst := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, s.Restore(context.Background(), snap, dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestSnapshotMissingSource(t *testing.T) {
	bak := t.TempDir()
	s := newSnap(t, bak)
	_, err := s.Snapshot(context.Background(), contract.Entry{ID: "x", Path: filepath.Join(t.TempDir(), "none")})
	assert.ErrorIs(t, err, os.ErrNotExist)
	ents, _ := os.ReadDir(bak)
	assert.Empty(t, ents)
}

type errWriter struct{ err error }

func (e errWriter) Write(context.Context, string, io.Reader) error { return e.err }

func TestSnapshotWriterError(t *testing.T) {
	src := filepath.Join(t.TempDir(), "g")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("1 2\n"), 50000), 0o644))
	boom := errors.New("no space")
	s, err := New(t.TempDir(), 1, errWriter{err: boom})
	require.NoError(t, err)
	_, err = s.Snapshot(context.Background(), contract.Entry{ID: "g", Path: src})
	assert.ErrorIs(t, err, boom)
}

func TestSnapshotCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newSnap(t, t.TempDir())
	_, err := s.Snapshot(ctx, contract.Entry{ID: "g", Path: "g"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Restore(ctx, "x", "y"), context.Canceled)
}

func TestRestoreCorrupt(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "bad.zst")
	require.NoError(t, os.WriteFile(snap, []byte("not zstd"), 0o644))
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(dst, []byte("keep"), 0o644))
	s := newSnap(t, t.TempDir())
	assert.Error(t, s.Restore(context.Background(), snap, dst))
	b, _ := os.ReadFile(dst)
	assert.Equal(t, "keep", string(b))
}

func TestNewValidation(t *testing.T) {
	w, _ := fsw.New(nil)
	_, err := New("", 3, w)
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
	_, err = New(t.TempDir(), 23, w)
	assert.Error(t, err)
	_, err = New(t.TempDir(), -1, w)
	assert.Error(t, err)
	_, err = New(t.TempDir(), 3, nil)
	assert.Error(t, err)
	s, err := New(t.TempDir(), 0, w)
	require.NoError(t, err)
	assert.Equal(t, DefaultLevel, s.level)
}

func TestOverlaps(t *testing.T) {
	in := t.TempDir()
	f := filepath.Join(in, "g.txt")
	require.NoError(t, os.WriteFile(f, nil, 0o644))

	s := newSnap(t, in)
	got, ok := s.Overlaps([]string{f})
	assert.True(t, ok)
	assert.Equal(t, f, got)
	_, ok = s.Overlaps([]string{in})
	assert.True(t, ok)

	other := newSnap(t, t.TempDir())
	_, ok = other.Overlaps([]string{in, f})
	assert.False(t, ok)
}

func TestOverlapsNested(t *testing.T) {
	in := t.TempDir()
	f := filepath.Join(in, "g.txt")
	require.NoError(t, os.WriteFile(f, nil, 0o644))

	// 尚未创建的子目录同样视为重合
	nested := newSnap(t, filepath.Join(in, "bak", "deep"))
	got, ok := nested.Overlaps([]string{in})
	assert.True(t, ok)
	assert.Equal(t, in, got)

	// 文件输入：同级子目录不会被枚举
	_, ok = nested.Overlaps([]string{f})
	assert.False(t, ok)

	// 前缀相同但不在其下
	sibling := newSnap(t, in+"-bak")
	_, ok = sibling.Overlaps([]string{in})
	assert.False(t, ok)

	// 输入在快照目录之下不构成重合
	outer := newSnap(t, filepath.Dir(in))
	_, ok = outer.Overlaps([]string{in})
	assert.False(t, ok)
}
