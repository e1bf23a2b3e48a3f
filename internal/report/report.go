package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/scheduler"
	"solshuttle/internal/web3"
)

const timeLayout = "2006-01-02 15:04:05"

// Fanout 将周期结果广播给多个 Reporter，单个失败不影响其余。
type Fanout struct {
	reporters []scheduler.Reporter
}

// NewFanout 创建一个新的 Fanout，忽略 nil。
func NewFanout(reporters ...scheduler.Reporter) *Fanout {
	set := make([]scheduler.Reporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			set = append(set, r)
		}
	}
	return &Fanout{reporters: set}
}

// Report 依次调用所有 Reporter 并合并错误。
func (f *Fanout) Report(ctx context.Context, outcome scheduler.Outcome) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, r := range f.reporters {
		if err := r.Report(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogReporter 把每个周期写成一行可读的状态，同时输出结构化日志。
type LogReporter struct {
	logger *slog.Logger

	mu    sync.Mutex
	lines io.Writer
}

// NewLogReporter 创建日志 Reporter，lines 可以为空。
func NewLogReporter(logger *slog.Logger, lines io.Writer) *LogReporter {
	return &LogReporter{logger: logger, lines: lines}
}

// Report 输出状态行。超时的交易仍可能上链，签名会一并记录以便人工核对。
func (r *LogReporter) Report(ctx context.Context, o scheduler.Outcome) error {
	line := FormatLine(o)

	attrs := []slog.Attr{
		slog.String("cycle_id", o.CycleID),
		slog.String("direction", o.Direction.Label()),
		slog.String("status", o.Status()),
		slog.String("stage", string(o.Stage)),
		slog.Int64("lamports", o.Amount.Lamports),
		slog.Duration("elapsed", o.Duration()),
	}
	if o.Receipt.Signature != "" {
		attrs = append(attrs, slog.String("signature", o.Receipt.Signature))
	}
	if o.Err != nil {
		attrs = append(attrs,
			slog.String("code", string(xerrors.CodeOf(o.Err))),
			slog.String("error", o.Err.Error()),
		)
	}
	r.logger.LogAttrs(ctx, levelOf(o), line, attrs...)

	if r.lines == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := fmt.Fprintln(r.lines, line); err != nil {
		return fmt.Errorf("写入状态行失败: %w", err)
	}
	return nil
}

func levelOf(o scheduler.Outcome) slog.Level {
	if o.Succeeded() {
		return slog.LevelInfo
	}
	if xerrors.SeverityOf(o.Err) == xerrors.SeverityCritical {
		return slog.LevelError
	}
	return slog.LevelWarn
}

// FormatLine 渲染单行状态：时间、方向、金额，以及签名或错误原因。
func FormatLine(o scheduler.Outcome) string {
	amount := "-"
	if o.Amount.Lamports > 0 {
		amount = o.Amount.String() + " SOL"
	}
	prefix := fmt.Sprintf("[%s] %s | %s", o.FinishedAt.Format(timeLayout), o.Direction, amount)

	switch {
	case o.Succeeded():
		return fmt.Sprintf("%s | %s", prefix, o.Receipt.Signature)
	case o.Receipt.Status == web3.StatusTimedOut:
		return fmt.Sprintf("%s | 确认超时 %s: %v", prefix, o.Receipt.Signature, o.Err)
	default:
		return fmt.Sprintf("%s | 转账失败: %v", prefix, o.Err)
	}
}
