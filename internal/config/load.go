package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "GRAPHNORM_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Concurrency:     1,
		Strict:          boolPtr(false),
		Compact:         boolPtr(false),
		ContinueOnError: boolPtr(false),
		Logging:         Logging{Level: "info"},
		Components: Components{
			Reader: "fs",
			Writer: "fs",
		},
	}
}

// Load 按扩展名选择解析器：.yaml/.yml 走 YAML，其余按 JSON。
func Load(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// LoadYAML 解析 YAML：先转为通用结构再编码为 JSON，复用 LoadJSON 的严格解码。
// 组件 Options 子树因此同样以原样 JSON 交给工厂。
func LoadYAML(path string, raw []byte) (Config, error) {
	if len(raw) == 0 {
		if path == "" {
			return Config{}, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw = b
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	if doc == nil {
		return Config{}, nil
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return Config{}, fmt.Errorf("yaml to json: %w", err)
	}
	return LoadJSON("", js)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	if over.Strict != nil {
		out.Strict = boolPtr(*over.Strict)
	}
	if over.Compact != nil {
		out.Compact = boolPtr(*over.Compact)
	}
	if over.ContinueOnError != nil {
		out.ContinueOnError = boolPtr(*over.ContinueOnError)
	}
	if over.BufSize != 0 {
		out.BufSize = over.BufSize
	}
	if over.Timeout != 0 {
		out.Timeout = over.Timeout
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if s := strings.TrimSpace(over.Backup.Dir); s != "" {
		out.Backup.Dir = s
	}
	if over.Backup.Level != 0 {
		out.Backup.Level = over.Backup.Level
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}
	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// EnvSource 返回 ENV 指定的配置来源：GRAPHNORM_CONFIG_FILE 与 GRAPHNORM_CONFIG_JSON。
func EnvSource(environ []string) (path string, raw []byte) {
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case EnvPrefix + "CONFIG_FILE":
			path = strings.TrimSpace(v)
		case EnvPrefix + "CONFIG_JSON":
			if strings.TrimSpace(v) != "" {
				raw = []byte(v)
			}
		}
	}
	return path, raw
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 空值视为未设置；非法值返回错误（指明键名）。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		key, val, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		val = strings.TrimSpace(val)
		var err error
		switch strings.TrimPrefix(key, EnvPrefix) {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "CONCURRENCY":
			over.Concurrency, err = atoi(val)
		case "STRICT":
			over.Strict, err = parseBool(val)
		case "COMPACT":
			over.Compact, err = parseBool(val)
		case "CONTINUE_ON_ERROR":
			over.ContinueOnError, err = parseBool(val)
		case "BUF_SIZE":
			over.BufSize, err = atoi(val)
		case "TIMEOUT":
			var d time.Duration
			d, err = time.ParseDuration(val)
			over.Timeout = Duration(d)
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "BACKUP_DIR":
			over.Backup.Dir = val
		case "BACKUP_LEVEL":
			over.Backup.Level, err = atoi(val)
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		case "READER_OPTIONS_JSON":
			err = checkJSON(val)
			over.Options.Reader = json.RawMessage(val)
		case "WRITER_OPTIONS_JSON":
			err = checkJSON(val)
			over.Options.Writer = json.RawMessage(val)
		default:
			// CONFIG_FILE / CONFIG_JSON 由 EnvSource 处理；其余键忽略
		}
		if err != nil {
			return Config{}, fmt.Errorf("env %s: %w", key, err)
		}
	}
	return over, nil
}

func checkJSON(s string) error {
	if !json.Valid([]byte(s)) {
		return errors.New("invalid json")
	}
	return nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

func parseBool(s string) (*bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &b, nil
}
