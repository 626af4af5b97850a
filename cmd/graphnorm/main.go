package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	cfgpkg "graphnorm/internal/config"
	"graphnorm/internal/diag"
	"graphnorm/internal/pipeline"
	"graphnorm/pkg/contract"
)

var (
	pipelineRun    = pipeline.Run
	pipelineVerify = pipeline.Verify
)

// 退出码
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

// 默认配置文件（按顺序探测工作目录）
var defaultConfigFiles = []string{"config.json", "config.yaml", "config.yml"}

// graphnorm [flags] <file|dir>...
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type cliFlags struct {
	config      string
	concurrency int
	strict      bool
	compact     bool
	keepGoing   bool
	backupDir   string
	timeout     time.Duration
	verify      bool
	initDir     string
	status      bool
	logLevel    string
}

func run(args []string, stdout, stderr io.Writer) int {
	start := time.Now()
	corrID := diag.NewCorrID()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "提示：.env 解析失败（已跳过）：%v\n", err)
	}

	var f cliFlags
	set := flag.NewFlagSet("graphnorm", flag.ContinueOnError)
	set.SetOutput(stderr)
	set.StringVar(&f.config, "config", "", "配置文件路径（JSON 或 YAML）；缺省探测 ./config.json、./config.yaml")
	set.IntVar(&f.concurrency, "concurrency", 0, "并发处理的文件数（覆盖配置）")
	set.BoolVar(&f.strict, "strict", false, "畸形行视为错误")
	set.BoolVar(&f.compact, "compact", false, "未重编号的文件也丢弃畸形行")
	set.BoolVar(&f.keepGoing, "keep-going", false, "某个文件失败后继续处理其余文件")
	set.StringVar(&f.backupDir, "backup-dir", "", "改写前将原文件 zstd 快照到该目录")
	set.DurationVar(&f.timeout, "timeout", 0, "整次运行超时，例如 30s（0 不限）")
	set.BoolVar(&f.verify, "verify", false, "只校验头部与正文一致性，不改写")
	set.StringVar(&f.initDir, "init-config", "", "在指定目录生成默认 config.json 与 .env 模板（不覆盖）；不带值时为当前目录")
	set.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐文件输出")
	set.StringVar(&f.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	if err := set.Parse(normalizeInitArg(args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}
	given := map[string]bool{}
	set.Visit(func(fl *flag.Flag) { given[fl.Name] = true })

	// 配置前的日志写 stderr
	logger := diag.NewLogger(corrID, "info", "")

	if dir := strings.TrimSpace(f.initDir); dir != "" {
		if err := initConfig(dir); err != nil {
			fmt.Fprintf(stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "init config failed", &start)
			return exitConfig
		}
		return exitOK
	}

	cfg, err := loadConfig(f, set.Args(), given)
	if err != nil {
		fmt.Fprintf(stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "load config failed", &start)
		return exitConfig
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "配置校验失败: %v\n", err)
		dumpConfig(stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "validate failed", &start)
		return exitConfig
	}

	// 使用最终配置重建 logger
	logger = diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer logger.Close()

	comp, pset, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "assemble failed", &start)
		return exitConfig
	}
	if comp.Backup != nil && !f.verify {
		if in, ok := comp.Backup.Overlaps(pset.Inputs); ok {
			fmt.Fprintf(stderr, "配置校验失败: 快照目录 %s 与输入 %s 重合\n", comp.Backup.Dir(), in)
			return exitConfig
		}
	}

	logger.DebugStart("config", "effective", "", map[string]string{
		"inputs_count":      fmt.Sprintf("%d", len(pset.Inputs)),
		"concurrency":       fmt.Sprintf("%d", pset.Concurrency),
		"strict":            fmt.Sprintf("%t", pset.Strict),
		"compact":           fmt.Sprintf("%t", pset.Compact),
		"continue_on_error": fmt.Sprintf("%t", pset.ContinueOnError),
		"timeout":           pset.Timeout.String(),
		"reader":            cfg.Components.Reader,
		"writer":            cfg.Components.Writer,
		"backup_dir":        cfg.Backup.Dir,
	})

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	diag.SetTerminal(diag.NewTerminal(stderr, f.status))
	defer diag.SetTerminal(nil)

	runFn := pipelineRun
	if f.verify {
		runFn = pipelineVerify
	}
	// 中断时取消运行；进行中的原子写放弃临时文件，原文件不变
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rep, err := runFn(ctx, comp, pset, logger)
	printReport(stdout, rep, f.verify)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "运行失败: %v\n", err)
		}
		return exitRun
	}
	return exitOK
}

// loadConfig 合并：默认 < 配置文件/CONFIG_JSON < ENV < CLI。
func loadConfig(f cliFlags, roots []string, given map[string]bool) (cfgpkg.Config, error) {
	envPath, envJSON := cfgpkg.EnvSource(os.Environ())
	path := f.config
	if path == "" {
		path = envPath
	}
	if path == "" {
		for _, name := range defaultConfigFiles {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}

	cfg := cfgpkg.Defaults()
	switch {
	case path != "":
		base, err := cfgpkg.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	case len(envJSON) > 0:
		base, err := cfgpkg.LoadJSON("", envJSON)
		if err != nil {
			return cfg, err
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, err
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	var overCLI cfgpkg.Config
	if len(roots) > 0 {
		overCLI.Inputs = roots
	}
	if f.concurrency > 0 {
		overCLI.Concurrency = f.concurrency
	}
	if given["strict"] {
		overCLI.Strict = &f.strict
	}
	if given["compact"] {
		overCLI.Compact = &f.compact
	}
	if given["keep-going"] {
		overCLI.ContinueOnError = &f.keepGoing
	}
	if given["timeout"] {
		overCLI.Timeout = cfgpkg.Duration(f.timeout)
	}
	overCLI.Backup.Dir = f.backupDir
	overCLI.Logging.Level = f.logLevel
	return cfgpkg.Merge(cfg, overCLI), nil
}

// printReport 每个文件一行：<id>\t<N N E>\t<flags>，失败为 <id>\tFAILED(<step>)\t<err>。
func printReport(w io.Writer, rep contract.Report, verify bool) {
	for _, r := range rep.Files {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "%s\tFAILED(%s)\t%v\n", r.ID, r.Step, r.Err)
		case r.Skipped != "":
			fmt.Fprintf(w, "%s\tSKIPPED\t%s\n", r.ID, r.Skipped)
		case verify:
			fmt.Fprintf(w, "%s\t%s\tverified\n", r.ID, r.Header)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Header, resultFlags(r))
		}
	}
}

func resultFlags(r contract.FileResult) string {
	var fl []string
	if r.ZeroBased {
		fl = append(fl, "zero-based")
	}
	if r.Rewritten {
		fl = append(fl, "rewritten")
	}
	if r.Malformed > 0 {
		fl = append(fl, fmt.Sprintf("malformed=%d", r.Malformed))
	}
	if r.Backup != "" {
		fl = append(fl, "backup="+r.Backup)
	}
	if len(fl) == 0 {
		return "-"
	}
	return strings.Join(fl, ",")
}

func dumpConfig(w io.Writer, c cfgpkg.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(w, "有效配置:\n%s\n", b)
}

// initConfig 在 dir 生成 config.json 与 .env；已存在的文件跳过，不覆盖。
func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfgpkg.DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return err
	}
	if err := writeExclusive(filepath.Join(dir, "config.json"), append(b, '\n')); err != nil {
		return err
	}
	return writeExclusive(filepath.Join(dir, ".env"), []byte(cfgpkg.DefaultEnvTemplate()))
}

func writeExclusive(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return err
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用当前目录 "."。
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for i, a := range args {
		out = append(out, a)
		if a != "--init-config" && a != "-init-config" {
			continue
		}
		if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
			out = append(out, ".")
		}
	}
	return out
}
