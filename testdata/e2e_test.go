package testdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "graphnorm/internal/config"
	"graphnorm/internal/pipeline"
	"graphnorm/pkg/contract"
)

// graphs: 输入内容与期望输出（相对路径 -> [输入, 输出]）。
var graphs = map[string][2]string{
	"zero.txt":       {"0 1\n1 2\n2 0\n", "3 3 3\n1 2\n2 3\n3 1\n"},
	"one.txt":        {"1 2\n2 3\n", "3 3 2\n1 2\n2 3\n"},
	"empty.txt":      {"", "0 0 0\n"},
	"web/crawl.txt":  {"0 5\n5 0\n\n3 4\n", "6 6 3\n1 6\n6 1\n4 5\n"},
	"web/broken.txt": {"1 2\nbogus\n2 7\n", "7 7 2\n1 2\nbogus\n2 7\n"},
}

func layout(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, io := range graphs {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(io[0]), 0o644))
	}
	// 排除目录中的文件不应被触碰
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("0 1\n"), 0o644))
	return dir
}

func baseConfig(input string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{input}
	cfg.Logging.Level = "error"
	cfg.Logging.Dir = ""
	cfg.Options.Reader = json.RawMessage(`{"recursive":true,"exclude_dir_names":[".git"]}`)
	cfg.Options.Writer = json.RawMessage(`{"buf_size":4096,"sync":false}`)
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config, verify bool) (contract.Report, error) {
	t.Helper()
	comp, set, err := cfgpkg.Assemble(cfg)
	require.NoError(t, err)
	if verify {
		return pipeline.Verify(context.Background(), comp, set, nil)
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

func TestE2ENormalizeAndVerify(t *testing.T) {
	dir := layout(t)
	cfg := baseConfig(dir)
	cfg.Backup.Dir = t.TempDir()

	rep, err := runPipeline(t, cfg, false)
	require.NoError(t, err)
	require.Len(t, rep.Files, len(graphs))
	assert.Equal(t, len(graphs), rep.Processed())

	for name, io := range graphs {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, io[1], string(got), name)
	}
	head, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
	require.NoError(t, err)
	assert.Equal(t, "0 1\n", string(head))

	// 快照可还原出原始内容
	comp, _, err := cfgpkg.Assemble(cfg)
	require.NoError(t, err)
	for _, f := range rep.Files {
		require.NotEmpty(t, f.Backup, f.ID)
		rel := relName(f.Path)
		dest := filepath.Join(t.TempDir(), "restored")
		require.NoError(t, comp.Backup.Restore(context.Background(), f.Backup, dest))
		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, graphs[rel][0], string(got), rel)
	}

	vrep, err := runPipeline(t, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, len(graphs), vrep.Processed())
	for _, f := range vrep.Files {
		head, _, _ := strings.Cut(graphs[relName(f.Path)][1], "\n")
		assert.Equal(t, head, f.Header.String(), f.ID)
	}
}

// relName 按文件名还原相对路径（临时目录可能经符号链接解析）。
func relName(p string) string {
	parent := filepath.Base(filepath.Dir(p))
	base := filepath.Base(p)
	if parent == "web" {
		return "web/" + base
	}
	return base
}

func TestE2ECompactThenVerify(t *testing.T) {
	dir := layout(t)
	cfg := baseConfig(filepath.Join(dir, "web", "broken.txt"))
	cfg.Compact = boolPtr(true)

	rep, err := runPipeline(t, cfg, false)
	require.NoError(t, err)
	require.Len(t, rep.Files, 1)
	f := rep.Files[0]
	assert.True(t, f.Rewritten)
	assert.EqualValues(t, 1, f.Malformed)

	got, err := os.ReadFile(filepath.Join(dir, "web", "broken.txt"))
	require.NoError(t, err)
	assert.Equal(t, "7 7 2\n1 2\n2 7\n", string(got))

	cfg.Strict = boolPtr(true)
	_, err = runPipeline(t, cfg, true)
	assert.NoError(t, err)
}

func TestE2EStrictContinueOnError(t *testing.T) {
	dir := layout(t)
	cfg := baseConfig(dir)
	cfg.Strict = boolPtr(true)
	cfg.ContinueOnError = boolPtr(true)

	rep, err := runPipeline(t, cfg, false)
	require.Error(t, err)

	var le *contract.LineError
	assert.True(t, errors.As(err, &le))
	failed := rep.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "broken.txt", filepath.Base(failed[0].Path))
	assert.Equal(t, len(graphs)-1, rep.Processed())

	// 失败文件保持原样
	got, err := os.ReadFile(filepath.Join(dir, "web", "broken.txt"))
	require.NoError(t, err)
	assert.Equal(t, graphs["web/broken.txt"][0], string(got))
}

func TestE2EVerifyBeforeNormalizeFails(t *testing.T) {
	dir := layout(t)
	cfg := baseConfig(filepath.Join(dir, "one.txt"))

	rep, err := runPipeline(t, cfg, true)
	require.Error(t, err)
	require.Len(t, rep.Files, 1)
	assert.Equal(t, contract.StepVerify, rep.Files[0].Step)
	// 首行 "1 2" 不是合法头部
	assert.ErrorIs(t, err, contract.ErrHeaderInvalid, fmt.Sprint(err))
}

func boolPtr(b bool) *bool { return &b }
