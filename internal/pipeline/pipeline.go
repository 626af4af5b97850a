package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"graphnorm/internal/backup"
	"graphnorm/internal/diag"
	"graphnorm/internal/edgelist"
	"graphnorm/pkg/contract"
)

// - 单点并发：仅此层管理并发；edgelist 操作均为同步、按单文件执行。
// - 先枚举后处理：枚举完成后才开始改写，按解析后路径去重，同一路径只有一个 worker。
// - 首错取消：默认任一文件失败即取消整体，未开始的文件不再启动；ContinueOnError 时汇总全部错误。

// Components 聚合运行所需的组件。
type Components struct {
	Reader contract.Reader
	Writer contract.Writer
	// Backup 可选：非空时在首次改写前保存快照。
	Backup *backup.Snapshotter
}

// Settings 运行期配置。
type Settings struct {
	Inputs      []string
	Concurrency int
	// Strict: 畸形行视为错误。
	Strict bool
	// Compact: 未重编号的文件若含畸形行，也以 delta=0 重写以丢弃之。
	Compact bool
	// ContinueOnError: 失败后继续处理其余文件。
	ContinueOnError bool
	// BufSize: 扫描读缓冲。
	BufSize int
	// Timeout: 整次运行的超时；<=0 不限。
	Timeout time.Duration
}

const tracerName = "graphnorm/pipeline"

// 未启动文件的跳过原因
const reasonNotStarted = "not started: batch halted"

type runner struct {
	comp   Components
	set    Settings
	logger *diag.Logger
	tracer trace.Tracer
	opts   edgelist.Options
}

// fileFunc 对单个文件执行一段流程，结果写入 res。
type fileFunc func(ctx context.Context, e contract.Entry, res *contract.FileResult) error

// Run 对每个候选文件执行 [backup] → detect → (reindex) → count → header。
// 返回的 Report 按枚举顺序排列；默认模式下错误为首个 *contract.StepError，
// ContinueOnError 时为 Report.Err()。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (contract.Report, error) {
	if err := sanity(comp, set, true); err != nil {
		return contract.Report{Started: time.Now()}, fmt.Errorf("sanity: %w", err)
	}
	r := newRunner(comp, set, logger)
	return r.run(ctx, "normalize", r.normalize)
}

// Verify 在同一枚举上检查头部与正文是否一致，不做任何改写。
func Verify(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (contract.Report, error) {
	if err := sanity(comp, set, false); err != nil {
		return contract.Report{Started: time.Now()}, fmt.Errorf("sanity: %w", err)
	}
	r := newRunner(comp, set, logger)
	return r.run(ctx, "verify", r.verify)
}

func newRunner(comp Components, set Settings, logger *diag.Logger) *runner {
	if set.Concurrency < 1 {
		set.Concurrency = 1
	}
	return &runner{
		comp:   comp,
		set:    set,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		opts:   edgelist.Options{Strict: set.Strict, BufSize: set.BufSize},
	}
}

func (r *runner) run(ctx context.Context, mode string, fn fileFunc) (contract.Report, error) {
	rep := contract.Report{Started: time.Now()}
	if r.set.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.set.Timeout)
		defer cancel()
	}
	var rtimer *diag.Timer
	if r.logger != nil {
		rtimer = r.logger.Start("pipeline", mode)
	}

	entries, enumFailed, err := r.enumerate(ctx)
	if err != nil {
		rep.Files = enumFailed
		return r.finish(rep, rtimer, err)
	}
	if r.comp.Backup != nil && mode == "normalize" {
		if in, ok := r.comp.Backup.Overlaps(r.set.Inputs); ok {
			err := &contract.StepError{Path: r.comp.Backup.Dir(), Step: contract.StepBackup,
				Err: fmt.Errorf("%w: backup dir overlaps input %q", contract.ErrPathInvalid, in)}
			return r.finish(rep, rtimer, err)
		}
	}

	rep.Files = make([]contract.FileResult, 0, len(enumFailed)+len(entries))
	rep.Files = append(rep.Files, enumFailed...)
	base := len(rep.Files)
	for _, e := range entries {
		rep.Files = append(rep.Files, contract.FileResult{ID: e.ID, Path: e.Path, Skipped: e.SkipReason})
	}
	t := diag.GetTerminal()
	t.RunStart(r.set.Concurrency, len(entries))

	var g *errgroup.Group
	gctx := ctx
	if r.set.ContinueOnError {
		g = &errgroup.Group{}
	} else {
		g, gctx = errgroup.WithContext(ctx)
	}
	g.SetLimit(r.set.Concurrency)

	for i, e := range entries {
		res := &rep.Files[base+i]
		if e.SkipReason != "" {
			if r.logger != nil {
				r.logger.Skip("reader", string(e.ID), e.SkipReason)
			}
			diag.IncOp("reader", "skip", "skip")
			t.FileSkip(string(e.ID), e.SkipReason)
			continue
		}
		if !r.set.ContinueOnError && gctx.Err() != nil {
			res.Skipped = reasonNotStarted
			continue
		}
		g.Go(func() error {
			if !r.set.ContinueOnError && gctx.Err() != nil {
				res.Skipped = reasonNotStarted
				return nil
			}
			return r.file(gctx, e, res, fn)
		})
	}
	werr := g.Wait()
	if r.set.ContinueOnError {
		werr = rep.Err()
	}
	return r.finish(rep, rtimer, werr)
}

func (r *runner) finish(rep contract.Report, tm *diag.Timer, err error) (contract.Report, error) {
	rep.Duration = time.Since(rep.Started)
	diag.GetTerminal().RunFinish(err == nil, rep.Duration)
	if err != nil {
		code := diag.Classify(err)
		if r.logger != nil {
			r.logger.ErrorWithKV("pipeline", string(code), "run failed", &rep.Started, "", map[string]string{"err": err.Error()})
		}
		diag.IncOp("pipeline", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("pipeline", string(code))
		}
		return rep, err
	}
	tm.Finish("run", int64(rep.Processed()))
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", rep.Duration.Milliseconds())
	return rep, nil
}

// file 在独立 span 内处理单个文件，并把结果报告给终端。
func (r *runner) file(ctx context.Context, e contract.Entry, res *contract.FileResult, fn fileFunc) error {
	ctx, span := r.tracer.Start(ctx, "graphnorm.file", trace.WithAttributes(attribute.String("file.id", string(e.ID))))
	defer span.End()
	t0 := time.Now()

	err := fn(ctx, e, res)
	span.SetAttributes(
		attribute.Int64("graph.nodes", res.Header.Nodes),
		attribute.Int64("graph.edges", res.Header.Edges),
	)
	detail := res.Header.String()
	if err != nil {
		res.Err = err
		var se *contract.StepError
		if errors.As(err, &se) {
			res.Step = se.Step
		}
		detail = fmt.Sprintf("FAILED(%s)", res.Step)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	diag.GetTerminal().FileFinish(string(e.ID), err == nil, detail, time.Since(t0))
	return err
}

// normalize: 单文件归一化流程。
func (r *runner) normalize(ctx context.Context, e contract.Entry, res *contract.FileResult) error {
	if b := r.comp.Backup; b != nil {
		if err := r.step(ctx, e, contract.StepBackup, func() (int64, error) {
			p, err := b.Snapshot(ctx, e)
			res.Backup = p
			return 0, err
		}); err != nil {
			return err
		}
	}
	if err := r.step(ctx, e, contract.StepDetect, func() (int64, error) {
		z, err := edgelist.DetectZero(ctx, e.Path, r.opts)
		res.ZeroBased = z
		return 0, err
	}); err != nil {
		return err
	}
	if res.ZeroBased {
		if err := r.step(ctx, e, contract.StepReindex, func() (int64, error) {
			st, err := edgelist.Reindex(ctx, r.comp.Writer, e.Path, r.opts)
			res.Malformed = st.Skipped
			res.Rewritten = err == nil
			return st.Valid, err
		}); err != nil {
			return err
		}
	}
	var stats edgelist.Stats
	if err := r.step(ctx, e, contract.StepCount, func() (int64, error) {
		h, st, err := edgelist.Count(ctx, e.Path, r.opts)
		res.Header = h
		stats = st
		return st.Valid, err
	}); err != nil {
		return err
	}
	if !res.ZeroBased {
		res.Malformed = stats.Skipped
		// compact：丢弃一基文件中的畸形行；计数不变
		if r.set.Compact && stats.Skipped > 0 {
			if err := r.step(ctx, e, contract.StepReindex, func() (int64, error) {
				st, err := edgelist.Rewrite(ctx, r.comp.Writer, e.Path, 0, r.opts)
				res.Rewritten = err == nil
				return st.Valid, err
			}); err != nil {
				return err
			}
		}
	}
	return r.step(ctx, e, contract.StepHeader, func() (int64, error) {
		return 1, edgelist.WriteHeader(ctx, r.comp.Writer, e.Path, res.Header)
	})
}

// verify: 只读检查。
func (r *runner) verify(ctx context.Context, e contract.Entry, res *contract.FileResult) error {
	return r.step(ctx, e, contract.StepVerify, func() (int64, error) {
		h, err := edgelist.Verify(ctx, e.Path, r.opts)
		res.Header = h
		return h.Edges, err
	})
}

// step 执行一个阶段：日志/指标埋点，并将错误包装为 *contract.StepError。
func (r *runner) step(ctx context.Context, e contract.Entry, s contract.Step, fn func() (int64, error)) error {
	comp := string(s)
	var tm *diag.Timer
	if r.logger != nil {
		tm = r.logger.StartWith(comp, comp, string(e.ID))
	}
	t0 := time.Now()
	var n int64
	err := ctx.Err()
	if err == nil {
		n, err = fn()
	}
	diag.ObserveDuration(comp, "finish", time.Since(t0).Milliseconds())
	if err != nil {
		code := diag.Classify(err)
		if r.logger != nil {
			r.logger.ErrorWithKV(comp, string(code), comp+" failed", &t0, string(e.ID), map[string]string{"err": err.Error()})
		}
		diag.IncOp(comp, "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError(comp, string(code))
		}
		return &contract.StepError{Path: e.Path, Step: s, Err: err}
	}
	tm.Finish(comp, n)
	diag.IncOp(comp, "finish", "success")
	return nil
}

// enumerate 逐个根调用 Reader，完成全部枚举后返回，按解析后路径去重。
// ContinueOnError 时，失败的根记录在 failed 中并继续；否则返回首个错误。
func (r *runner) enumerate(ctx context.Context) (entries []contract.Entry, failed []contract.FileResult, err error) {
	var tm *diag.Timer
	if r.logger != nil {
		tm = r.logger.Start("reader", "enumerate")
	}
	seen := make(map[string]struct{})
	for _, root := range r.set.Inputs {
		ierr := r.comp.Reader.Iterate(ctx, []string{root}, func(e contract.Entry) error {
			key := e.Path
			if key == "" {
				key = string(e.ID)
			}
			if _, dup := seen[key]; dup {
				return nil
			}
			seen[key] = struct{}{}
			entries = append(entries, e)
			return nil
		})
		if ierr == nil {
			continue
		}
		code := diag.Classify(ierr)
		if r.logger != nil {
			r.logger.ErrorWithKV("reader", string(code), "iterate failed", nil, root, map[string]string{"err": ierr.Error()})
		}
		diag.IncOp("reader", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("reader", string(code))
		}
		se := &contract.StepError{Path: root, Step: contract.StepEnumerate, Err: ierr}
		res := contract.FileResult{ID: contract.NormalizeFileID(root), Path: root, Step: contract.StepEnumerate, Err: se}
		if !r.set.ContinueOnError || errors.Is(ierr, context.Canceled) || errors.Is(ierr, context.DeadlineExceeded) {
			return nil, []contract.FileResult{res}, se
		}
		failed = append(failed, res)
	}
	tm.Finish("enumerate", int64(len(entries)))
	diag.IncOp("reader", "finish", "success")
	return entries, failed, nil
}

func sanity(c Components, s Settings, mutate bool) error {
	if c.Reader == nil {
		return errors.New("pipeline: missing reader")
	}
	if mutate && c.Writer == nil {
		return errors.New("pipeline: missing writer")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}
