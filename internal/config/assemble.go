package config

import (
	"errors"
	"fmt"
	"strings"

	"graphnorm/internal/backup"
	"graphnorm/internal/diag"
	"graphnorm/internal/pipeline"
	"graphnorm/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.BufSize < 0 {
		return errors.New("config: buf_size must be >= 0")
	}
	if cfg.Timeout < 0 {
		return errors.New("config: timeout must be >= 0")
	}
	if !diag.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("config: unknown log level %q", cfg.Logging.Level)
	}
	if cfg.Backup.Level < 0 || cfg.Backup.Level > 22 {
		return fmt.Errorf("config: backup.level %d out of range 1..22", cfg.Backup.Level)
	}
	if name := effName(cfg.Components.Reader, Defaults().Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered (have %v)", name, registry.Names(registry.Reader))
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered (have %v)", name, registry.Names(registry.Writer))
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	comp := pipeline.Components{Reader: r, Writer: w}
	if dir := strings.TrimSpace(cfg.Backup.Dir); dir != "" {
		// 快照与归一化共用同一原子 Writer
		b, err := backup.New(dir, cfg.Backup.Level, w)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, err
		}
		comp.Backup = b
	}

	set := pipeline.Settings{
		Inputs:          cloneStrings(cfg.Inputs),
		Concurrency:     cfg.Concurrency,
		Strict:          boolVal(cfg.Strict),
		Compact:         boolVal(cfg.Compact),
		ContinueOnError: boolVal(cfg.ContinueOnError),
		BufSize:         cfg.BufSize,
		Timeout:         cfg.Timeout.Std(),
	}
	return comp, set, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
