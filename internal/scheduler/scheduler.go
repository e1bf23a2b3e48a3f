package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"solshuttle/internal/amount"
	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/web3"
	"solshuttle/pkg/logger"
)

const defaultRequestTimeout = 30 * time.Second

// AmountSource draws the amount moved by a cycle.
type AmountSource interface {
	Next() amount.Amount
}

// Builder assembles a signed transfer without touching the network.
type Builder interface {
	Build(sender web3.Identity, receiver web3.Address, lamports int64, anchor web3.Anchor) (web3.SignedTransfer, error)
}

// Ledger is the part of web3.Client a cycle needs.
type Ledger interface {
	FetchAnchor(ctx context.Context) (web3.Anchor, error)
	Submit(ctx context.Context, transfer web3.SignedTransfer) (web3.Receipt, error)
	Confirm(ctx context.Context, receipt web3.Receipt, deadline time.Duration) (web3.Receipt, error)
}

// Reporter receives the outcome of every cycle.
type Reporter interface {
	Report(ctx context.Context, outcome Outcome) error
}

// Guard is renewed before each cycle; a failed renewal skips the transfer.
type Guard interface {
	Renew(ctx context.Context) error
}

// Config holds the fixed timings of the loop.
type Config struct {
	Interval       time.Duration
	ConfirmTimeout time.Duration
	RequestTimeout time.Duration
}

// Scheduler alternates transfers between two wallets, one cycle at a time.
type Scheduler struct {
	walletA web3.Identity
	walletB web3.Identity
	amounts AmountSource
	builder Builder
	ledger  Ledger

	reporter Reporter
	guard    Guard
	logger   *slog.Logger

	interval       time.Duration
	confirmTimeout time.Duration
	requestTimeout time.Duration

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	direction Direction
}

// Option customises the scheduler.
type Option func(*Scheduler)

// WithReporter sets the collaborator that receives cycle outcomes.
func WithReporter(r Reporter) Option {
	return func(s *Scheduler) {
		s.reporter = r
	}
}

// WithGuard sets a lease renewed at the start of every cycle.
func WithGuard(g Guard) Option {
	return func(s *Scheduler) {
		s.guard = g
	}
}

// WithLogger overrides the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithInitialDirection changes the direction of the first cycle.
func WithInitialDirection(d Direction) Option {
	return func(s *Scheduler) {
		s.direction = d
	}
}

// New validates the collaborators and returns a scheduler starting at A → B.
func New(walletA, walletB web3.Identity, amounts AmountSource, builder Builder, ledger Ledger, cfg Config, opts ...Option) (*Scheduler, error) {
	if walletA.IsZero() || walletB.IsZero() {
		return nil, xerrors.Config("缺少钱包身份")
	}
	if walletA.Address() == walletB.Address() {
		return nil, xerrors.Config("钱包 A 与钱包 B 地址相同: %s", walletA.Address())
	}
	if amounts == nil || builder == nil || ledger == nil {
		return nil, xerrors.Config("调度器依赖未初始化")
	}
	if cfg.Interval <= 0 || cfg.ConfirmTimeout <= 0 {
		return nil, xerrors.Config("调度间隔与确认超时必须大于 0")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	s := &Scheduler{
		walletA:        walletA,
		walletB:        walletB,
		amounts:        amounts,
		builder:        builder,
		ledger:         ledger,
		logger:         logger.Named("scheduler"),
		interval:       cfg.Interval,
		confirmTimeout: cfg.ConfirmTimeout,
		requestTimeout: cfg.RequestTimeout,
		sleep:          sleepContext,
		now:            time.Now,
		direction:      AToB,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Direction returns the direction the next cycle will use.
func (s *Scheduler) Direction() Direction {
	return s.direction
}

// Run executes cycles until ctx is cancelled, sleeping the fixed interval
// after each one. Cancellation takes effect between cycles only.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("调度器启动",
		slog.String("wallet_a", s.walletA.Address().String()),
		slog.String("wallet_b", s.walletB.Address().String()),
		slog.Duration("interval", s.interval),
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.RunOnce(ctx)
		if err := s.sleep(ctx, s.interval); err != nil {
			return err
		}
	}
}

// RunOnce performs one complete cycle and toggles the direction, whatever the
// outcome. The cycle is detached from ctx cancellation so an in-flight
// submission is always resolved.
func (s *Scheduler) RunOnce(ctx context.Context) Outcome {
	cycleCtx := context.WithoutCancel(ctx)

	dir := s.direction
	sender, receiver := s.walletA, s.walletB
	if dir == BToA {
		sender, receiver = s.walletB, s.walletA
	}

	out := Outcome{
		CycleID:   uuid.NewString(),
		Direction: dir,
		Sender:    sender.Address(),
		Receiver:  receiver.Address(),
		StartedAt: s.now(),
	}
	s.transfer(cycleCtx, sender, receiver.Address(), &out)
	out.FinishedAt = s.now()

	s.report(cycleCtx, out)
	s.direction = dir.Toggle()
	return out
}

func (s *Scheduler) transfer(ctx context.Context, sender web3.Identity, receiver web3.Address, out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.Err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("周期内部异常: %v", r))
		}
	}()

	if s.guard != nil {
		out.Stage = StageLease
		if err := s.withTimeout(ctx, s.guard.Renew); err != nil {
			out.Err = err
			return
		}
	}

	out.Stage = StageAmount
	out.Amount = s.amounts.Next()

	out.Stage = StageAnchor
	var anchor web3.Anchor
	err := s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		anchor, err = s.ledger.FetchAnchor(ctx)
		return err
	})
	if err != nil {
		out.Err = err
		return
	}

	out.Stage = StageBuild
	signed, err := s.builder.Build(sender, receiver, out.Amount.Lamports, anchor)
	if err != nil {
		out.Err = err
		return
	}

	out.Stage = StageSubmit
	err = s.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		out.Receipt, err = s.ledger.Submit(ctx, signed)
		return err
	})
	if err != nil {
		out.Err = err
		return
	}

	out.Stage = StageConfirm
	confirmed, err := s.ledger.Confirm(ctx, out.Receipt, s.confirmTimeout)
	out.Receipt = confirmed
	if err != nil {
		out.Err = err
		return
	}
	if confirmed.Status != web3.StatusConfirmed {
		out.Err = xerrors.Rejected(nil, fmt.Sprintf("交易 %s 状态为 %s", confirmed.Signature, confirmed.Status))
		return
	}
	out.Stage = StageDone
}

func (s *Scheduler) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	return fn(stepCtx)
}

func (s *Scheduler) report(ctx context.Context, out Outcome) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.Report(ctx, out); err != nil {
		s.logger.Warn("上报周期结果失败",
			slog.String("cycle_id", out.CycleID),
			slog.String("error", err.Error()),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
