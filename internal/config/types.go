package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs      []string `json:"inputs"`
	Concurrency int      `json:"concurrency"`
	// 布尔开关用指针区分“未设置”与显式 false。
	Strict          *bool    `json:"strict,omitempty"`
	Compact         *bool    `json:"compact,omitempty"`
	ContinueOnError *bool    `json:"continue_on_error,omitempty"`
	BufSize         int      `json:"buf_size,omitempty"`
	Timeout         Duration `json:"timeout,omitempty"`
	Logging         Logging  `json:"logging"`
	Backup          Backup   `json:"backup"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 日志等级与输出目录（空目录写 stderr）。
type Logging struct {
	Level string `json:"level"`
	Dir   string `json:"dir"`
}

// Backup: 快照目录（空表示关闭）与 zstd 压缩级别。
type Backup struct {
	Dir   string `json:"dir"`
	Level int    `json:"level"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader string `json:"reader"`
	Writer string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader json.RawMessage `json:"reader,omitempty"`
	Writer json.RawMessage `json:"writer,omitempty"`
}

// Duration 接受 "30s" 形式的字符串或秒数。
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(x * float64(time.Second)))
	case string:
		if x == "" {
			*d = 0
			return nil
		}
		p, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		*d = Duration(p)
	default:
		return fmt.Errorf("timeout: unsupported value %s", string(b))
	}
	return nil
}

// Std 返回 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

func boolPtr(b bool) *bool { return &b }

func boolVal(p *bool) bool { return p != nil && *p }
