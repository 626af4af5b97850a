package config

import (
	"encoding/json"
	"strings"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// 选项键全部列出，值为安全中性默认。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:          []string{"graphs"},
		Concurrency:     d.Concurrency,
		Strict:          boolPtr(false),
		Compact:         boolPtr(false),
		ContinueOnError: boolPtr(false),
		Logging:         Logging{Level: "info", Dir: "logs"},
		Backup:          Backup{Dir: "", Level: 3},
		Components:      d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "recursive": false,
  "exclude_dir_names": [".git"]
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "buf_size": 65536,
  "perm_file": 0,
  "perm_dir": 0,
  "sync": true
}`)
	return cfg
}

// envKeys: .env 模板中列出的覆盖项（不含前缀）。
var envKeys = [][]string{
	{"# 配置来源（可二选一）", "CONFIG_FILE", "CONFIG_JSON"},
	{"# 运行参数覆盖", "INPUTS", "CONCURRENCY", "STRICT", "COMPACT", "CONTINUE_ON_ERROR", "BUF_SIZE", "TIMEOUT"},
	{"# 日志与快照", "LOG_LEVEL", "LOG_DIR", "BACKUP_DIR", "BACKUP_LEVEL"},
	{"# 组件选择与选项", "COMPONENTS_READER", "COMPONENTS_WRITER", "READER_OPTIONS_JSON", "WRITER_OPTIONS_JSON"},
}

// DefaultEnvTemplate 返回 .env 模板内容。
func DefaultEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# graphnorm .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件；.env 不覆盖已有环境变量\n")
	b.WriteString("# 空值表示未设置。\n")
	for _, group := range envKeys {
		b.WriteString("\n")
		b.WriteString(group[0])
		b.WriteString("\n")
		for _, k := range group[1:] {
			b.WriteString(EnvPrefix)
			b.WriteString(k)
			b.WriteString("=\n")
		}
	}
	return b.String()
}
