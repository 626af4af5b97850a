package diag

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// 指标经 OpenTelemetry 全局 MeterProvider 上报；未注册 provider 时为 no-op。
// - graphnorm.op.total{comp,stage,result}
// - graphnorm.error.total{comp,code}
// - graphnorm.op.duration{comp,stage}（毫秒）

const meterName = "graphnorm/diag"

type instruments struct {
	ops  metric.Int64Counter
	errs metric.Int64Counter
	dur  metric.Int64Histogram
}

var (
	instMu sync.Mutex
	inst   *instruments
)

// SetMeterProvider 用 mp 重建仪表；nil 表示回到全局 provider。
func SetMeterProvider(mp metric.MeterProvider) {
	instMu.Lock()
	defer instMu.Unlock()
	inst = build(mp)
}

func current() *instruments {
	instMu.Lock()
	defer instMu.Unlock()
	if inst == nil {
		inst = build(nil)
	}
	return inst
}

func build(mp metric.MeterProvider) *instruments {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)
	fallback := noop.NewMeterProvider().Meter(meterName)
	ops, err := m.Int64Counter("graphnorm.op.total", metric.WithDescription("Pipeline step outcomes."))
	if err != nil {
		ops, _ = fallback.Int64Counter("graphnorm.op.total")
	}
	errs, err := m.Int64Counter("graphnorm.error.total", metric.WithDescription("Classified errors."))
	if err != nil {
		errs, _ = fallback.Int64Counter("graphnorm.error.total")
	}
	dur, err := m.Int64Histogram("graphnorm.op.duration", metric.WithUnit("ms"), metric.WithDescription("Step duration."))
	if err != nil {
		dur, _ = fallback.Int64Histogram("graphnorm.op.duration")
	}
	return &instruments{ops: ops, errs: errs, dur: dur}
}

// IncOp 累加操作计数（result=success|error|skip）。
func IncOp(comp, stage, result string) {
	current().ops.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("comp", comp),
		attribute.String("stage", stage),
		attribute.String("result", result),
	))
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	current().errs.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("comp", comp),
		attribute.String("code", code),
	))
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	current().dur.Record(context.Background(), durMS, metric.WithAttributes(
		attribute.String("comp", comp),
		attribute.String("stage", stage),
	))
}
