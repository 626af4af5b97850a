package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "graphnorm/internal/config"
	"graphnorm/internal/diag"
	"graphnorm/internal/pipeline"
	"graphnorm/pkg/contract"
)

// chdir 切到临时目录，避免读取仓库中的 .env / config.json。
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func runCLI(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	code := run(args, &out, &errb)
	return code, out.String(), errb.String()
}

func writeGraph(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRunNormalizesFiles(t *testing.T) {
	dir := chdir(t)
	g := filepath.Join(dir, "graphs")
	require.NoError(t, os.Mkdir(g, 0o755))
	writeGraph(t, g, "a.txt", "0 1\n1 2\n2 0\n")
	writeGraph(t, g, "b.txt", "1 2\nabc\n2 3\n")

	code, out, _ := runCLI("--status=false", "graphs")
	require.Equal(t, exitOK, code)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "graphs/a.txt\t3 3 3\tzero-based,rewritten", lines[0])
	assert.Equal(t, "graphs/b.txt\t3 3 2\tmalformed=1", lines[1])

	b, err := os.ReadFile(filepath.Join(g, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "3 3 3\n1 2\n2 3\n3 1\n", string(b))
}

func TestRunCompactFlag(t *testing.T) {
	dir := chdir(t)
	p := writeGraph(t, dir, "g", "1 2\nabc\n2 3\n")
	code, _, _ := runCLI("--status=false", "--compact", p)
	require.Equal(t, exitOK, code)
	b, _ := os.ReadFile(p)
	assert.Equal(t, "3 3 2\n1 2\n2 3\n", string(b))
}

func TestRunFailureExitCode(t *testing.T) {
	dir := chdir(t)
	p := writeGraph(t, dir, "g", "1 2\nabc\n")
	code, out, errOut := runCLI("--status=false", "--strict", p)
	assert.Equal(t, exitRun, code)
	assert.Contains(t, out, "\tFAILED(detect)\t")
	assert.Contains(t, errOut, "运行失败")
}

func TestRunMissingInput(t *testing.T) {
	chdir(t)
	code, out, _ := runCLI("--status=false", "nope")
	assert.Equal(t, exitRun, code)
	assert.Contains(t, out, "nope\tFAILED(enumerate)")
}

func TestRunConfigErrors(t *testing.T) {
	chdir(t)
	code, _, errOut := runCLI("--status=false")
	assert.Equal(t, exitConfig, code, "无输入")
	assert.Contains(t, errOut, "inputs empty")

	code, _, _ = runCLI("--status=false", "--log-level=trace", "x")
	assert.Equal(t, exitConfig, code)

	code, _, _ = runCLI("--no-such-flag")
	assert.Equal(t, exitConfig, code)

	code, _, _ = runCLI("--config", "missing.yaml", "x")
	assert.Equal(t, exitConfig, code)
}

func TestRunBackupOverlap(t *testing.T) {
	dir := chdir(t)
	writeGraph(t, dir, "g", "1 2\n")
	code, _, errOut := runCLI("--status=false", "--backup-dir", dir, dir)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut, "重合")
}

func TestRunBackupNestedInInput(t *testing.T) {
	dir := chdir(t)
	writeGraph(t, dir, "g", "0 1\n")
	code, _, errOut := runCLI("--status=false", "--backup-dir", filepath.Join(dir, "bak"), dir)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut, "重合")
	b, err := os.ReadFile(filepath.Join(dir, "g"))
	require.NoError(t, err)
	assert.Equal(t, "0 1\n", string(b))
}

func TestRunWithBackupDir(t *testing.T) {
	dir := chdir(t)
	in := filepath.Join(dir, "in")
	require.NoError(t, os.Mkdir(in, 0o755))
	writeGraph(t, in, "g", "0 1\n")
	code, out, _ := runCLI("--status=false", "--backup-dir", filepath.Join(dir, "bak"), "in")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "backup=")
	_, err := os.Stat(filepath.Join(dir, "bak", "in__g.zst"))
	assert.NoError(t, err)
}

func TestRunVerify(t *testing.T) {
	dir := chdir(t)
	p := writeGraph(t, dir, "g", "0 1\n")
	code, out, _ := runCLI("--status=false", "--verify", p)
	assert.Equal(t, exitRun, code)
	assert.Contains(t, out, "FAILED(verify)")

	code, _, _ = runCLI("--status=false", p)
	require.Equal(t, exitOK, code)
	code, out, _ = runCLI("--status=false", "--verify", p)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "\t2 2 1\tverified")
}

func TestRunInitConfig(t *testing.T) {
	dir := chdir(t)
	code, _, _ := runCLI("--init-config", "out")
	require.Equal(t, exitOK, code)
	cfg, err := cfgpkg.LoadJSON(filepath.Join(dir, "out", "config.json"), nil)
	require.NoError(t, err)
	assert.NoError(t, cfgpkg.Validate(cfg))
	env, err := os.ReadFile(filepath.Join(dir, "out", ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "GRAPHNORM_INPUTS=")

	// 再次生成不覆盖
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "config.json"), []byte("{}"), 0o644))
	code, _, _ = runCLI("--init-config", "out")
	require.Equal(t, exitOK, code)
	b, _ := os.ReadFile(filepath.Join(dir, "out", "config.json"))
	assert.Equal(t, "{}", string(b))

	// 裸开关：当前目录
	code, _, _ = runCLI("--init-config")
	require.Equal(t, exitOK, code)
	_, err = os.Stat(filepath.Join(dir, "config.json"))
	assert.NoError(t, err)
}

// 捕获传入 pipeline 的 Settings。
func stubRun(t *testing.T) *pipeline.Settings {
	t.Helper()
	var got pipeline.Settings
	orig := pipelineRun
	pipelineRun = func(_ context.Context, _ pipeline.Components, set pipeline.Settings, _ *diag.Logger) (contract.Report, error) {
		got = set
		return contract.Report{}, nil
	}
	t.Cleanup(func() { pipelineRun = orig })
	return &got
}

func TestPrecedence(t *testing.T) {
	dir := chdir(t)
	cfg := cfgpkg.Config{Inputs: []string{"from-file"}, Concurrency: 2, Timeout: cfgpkg.Duration(time.Minute)}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), b, 0o644))
	t.Setenv("GRAPHNORM_CONCURRENCY", "5")
	t.Setenv("GRAPHNORM_COMPACT", "true")

	got := stubRun(t)
	code, _, _ := runCLI("--status=false", "--compact=false", "cli-root")
	require.Equal(t, exitOK, code)
	assert.Equal(t, []string{"cli-root"}, got.Inputs)
	assert.Equal(t, 5, got.Concurrency, "ENV 覆盖文件")
	assert.False(t, got.Compact, "CLI 覆盖 ENV")
	assert.Equal(t, time.Minute, got.Timeout)
}

func TestYAMLConfigFromEnv(t *testing.T) {
	dir := chdir(t)
	yml := "inputs: [y]\nconcurrency: 7\ncontinue_on_error: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte(yml), 0o644))
	t.Setenv("GRAPHNORM_CONFIG_FILE", "c.yaml")

	got := stubRun(t)
	code, _, _ := runCLI("--status=false")
	require.Equal(t, exitOK, code)
	assert.Equal(t, []string{"y"}, got.Inputs)
	assert.Equal(t, 7, got.Concurrency)
	assert.True(t, got.ContinueOnError)
}

func TestDotEnvDoesNotOverride(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GRAPHNORM_CONCURRENCY=9\nGRAPHNORM_STRICT=true\n"), 0o644))
	t.Setenv("GRAPHNORM_CONCURRENCY", "2")
	// 记录原值以便清理，再移除使 .env 可以注入
	t.Setenv("GRAPHNORM_STRICT", "")
	require.NoError(t, os.Unsetenv("GRAPHNORM_STRICT"))

	got := stubRun(t)
	code, _, _ := runCLI("--status=false", "x")
	require.Equal(t, exitOK, code)
	assert.Equal(t, 2, got.Concurrency)
	assert.True(t, got.Strict)
}

func TestPrintReport(t *testing.T) {
	rep := contract.Report{Files: []contract.FileResult{
		{ID: "a", Header: contract.Header{Nodes: 3, Edges: 3}, ZeroBased: true, Rewritten: true},
		{ID: "b", Header: contract.Header{Nodes: 1, Edges: 1}},
		{ID: "c", Skipped: "unreadable: denied"},
		{ID: "d", Step: contract.StepHeader, Err: &contract.StepError{Path: "d", Step: contract.StepHeader, Err: os.ErrPermission}},
	}}
	var buf bytes.Buffer
	printReport(&buf, rep, false)
	want := "a\t3 3 3\tzero-based,rewritten\n" +
		"b\t1 1 1\t-\n" +
		"c\tSKIPPED\tunreadable: denied\n" +
		"d\tFAILED(header)\theader d: permission denied\n"
	assert.Equal(t, want, buf.String())
}

func TestNormalizeInitArg(t *testing.T) {
	assert.Equal(t, []string{"--init-config", "."}, normalizeInitArg([]string{"--init-config"}))
	assert.Equal(t, []string{"--init-config", ".", "--status=false"}, normalizeInitArg([]string{"--init-config", "--status=false"}))
	assert.Equal(t, []string{"--init-config", "out"}, normalizeInitArg([]string{"--init-config", "out"}))
	assert.Equal(t, []string{"--init-config=out"}, normalizeInitArg([]string{"--init-config=out"}))
}
