package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solshuttle/internal/amount"
	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/web3"
	solclient "solshuttle/internal/web3/solana"
)

type fakeLedger struct {
	mu          sync.Mutex
	anchorErr   func(call int) error
	submitErr   error
	confirmErr  error
	onSubmit    func()
	anchorCalls int
	submitted   []web3.SignedTransfer
	confirmCtx  []error
	deadlines   []time.Duration
}

func (f *fakeLedger) FetchAnchor(context.Context) (web3.Anchor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.anchorCalls++
	if f.anchorErr != nil {
		if err := f.anchorErr(f.anchorCalls); err != nil {
			return web3.Anchor{}, err
		}
	}
	return web3.Anchor{Blockhash: solana.Hash{byte(f.anchorCalls)}, LastValidBlockHeight: 100, FetchedAt: time.Now()}, nil
}

func (f *fakeLedger) Submit(_ context.Context, transfer web3.SignedTransfer) (web3.Receipt, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, transfer)
	f.mu.Unlock()
	if f.onSubmit != nil {
		f.onSubmit()
	}
	if f.submitErr != nil {
		return web3.Receipt{}, f.submitErr
	}
	return web3.Receipt{Signature: transfer.Signature().String(), Status: web3.StatusPending, Anchor: transfer.Anchor}, nil
}

func (f *fakeLedger) Confirm(ctx context.Context, receipt web3.Receipt, deadline time.Duration) (web3.Receipt, error) {
	f.mu.Lock()
	f.confirmCtx = append(f.confirmCtx, ctx.Err())
	f.deadlines = append(f.deadlines, deadline)
	f.mu.Unlock()
	if f.confirmErr != nil {
		receipt.Status = web3.StatusTimedOut
		return receipt, f.confirmErr
	}
	receipt.Status = web3.StatusConfirmed
	return receipt, nil
}

type recordingReporter struct {
	outcomes []Outcome
	err      error
}

func (r *recordingReporter) Report(_ context.Context, o Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return r.err
}

type failingGuard struct{ err error }

func (g failingGuard) Renew(context.Context) error { return g.err }

func newWallets(t *testing.T) (web3.Identity, web3.Identity) {
	t.Helper()
	ids := make([]web3.Identity, 2)
	for i, name := range []string{"A", "B"} {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		ids[i], err = web3.NewIdentity(name, key)
		if err != nil {
			t.Fatalf("identity: %v", err)
		}
	}
	return ids[0], ids[1]
}

func newGenerator(t *testing.T) *amount.Generator {
	t.Helper()
	gen, err := amount.NewGenerator(decimal.RequireFromString("0.005"), decimal.RequireFromString("0.01"))
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	return gen
}

func newTestScheduler(t *testing.T, ledger Ledger, opts ...Option) (*Scheduler, web3.Identity, web3.Identity) {
	t.Helper()
	a, b := newWallets(t)
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	s, err := New(a, b, newGenerator(t), solclient.NewBuilder(), ledger, Config{
		Interval:       10 * time.Minute,
		ConfirmTimeout: 45 * time.Second,
		RequestTimeout: time.Second,
	}, opts...)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, a, b
}

func TestRunOnceSuccessfulCycle(t *testing.T) {
	ledger := &fakeLedger{}
	reporter := &recordingReporter{}
	s, a, b := newTestScheduler(t, ledger, WithReporter(reporter))

	if s.Direction() != AToB {
		t.Fatalf("expected initial direction A → B, got %s", s.Direction())
	}

	out := s.RunOnce(context.Background())
	if !out.Succeeded() || out.Stage != StageDone {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Receipt.Status != web3.StatusConfirmed || out.Receipt.Signature == "" {
		t.Fatalf("unexpected receipt %+v", out.Receipt)
	}
	if out.Direction != AToB || out.Sender != a.Address() || out.Receiver != b.Address() {
		t.Fatalf("unexpected roles %+v", out)
	}
	min, max := decimal.RequireFromString("0.005"), decimal.RequireFromString("0.01")
	if out.Amount.Display.LessThan(min) || out.Amount.Display.GreaterThan(max) {
		t.Fatalf("amount %s outside bounds", out.Amount.Display)
	}
	if got := ledger.submitted[0].Lamports; int64(got) != out.Amount.Lamports {
		t.Fatalf("submitted %d lamports, drew %d", got, out.Amount.Lamports)
	}
	if ledger.deadlines[0] != 45*time.Second {
		t.Fatalf("unexpected confirm deadline %s", ledger.deadlines[0])
	}
	if s.Direction() != BToA {
		t.Fatalf("expected next direction B → A, got %s", s.Direction())
	}
	if len(reporter.outcomes) != 1 || reporter.outcomes[0].CycleID != out.CycleID {
		t.Fatalf("expected the outcome to be reported once, got %d", len(reporter.outcomes))
	}
}

func TestDirectionAlternatesRegardlessOfOutcome(t *testing.T) {
	ledger := &fakeLedger{
		anchorErr: func(call int) error {
			if call%3 == 0 {
				return xerrors.Network(errors.New("connection reset"), "获取最新区块哈希失败")
			}
			return nil
		},
	}
	s, a, b := newTestScheduler(t, ledger)

	want := AToB
	for i := 0; i < 9; i++ {
		out := s.RunOnce(context.Background())
		if out.Direction != want {
			t.Fatalf("cycle %d: direction %s, want %s", i, out.Direction, want)
		}
		sender := a.Address()
		if want == BToA {
			sender = b.Address()
		}
		if out.Sender != sender {
			t.Fatalf("cycle %d: unexpected sender %s", i, out.Sender)
		}
		want = want.Toggle()
	}
}

func TestRunOnceReportsTypedFailures(t *testing.T) {
	cases := []struct {
		name   string
		ledger *fakeLedger
		want   error
		stage  Stage
	}{
		{"network", &fakeLedger{anchorErr: func(int) error { return xerrors.Network(nil, "unreachable") }}, xerrors.ErrNetwork, StageAnchor},
		{"rejected", &fakeLedger{submitErr: xerrors.Rejected(nil, "blockhash not found")}, xerrors.ErrRejected, StageSubmit},
		{"timeout", &fakeLedger{confirmErr: xerrors.Timeout(nil, "deadline")}, xerrors.ErrTimeout, StageConfirm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reporter := &recordingReporter{err: errors.New("reporter down")}
			s, _, _ := newTestScheduler(t, tc.ledger, WithReporter(reporter))

			out := s.RunOnce(context.Background())
			if out.Succeeded() {
				t.Fatal("expected failure")
			}
			if !errors.Is(out.Err, tc.want) || out.Stage != tc.stage {
				t.Fatalf("got stage %s err %v", out.Stage, out.Err)
			}
			if s.Direction() != BToA {
				t.Fatal("failed cycles must still toggle direction")
			}
			if len(reporter.outcomes) != 1 {
				t.Fatal("failures must be reported")
			}
		})
	}
}

func TestRunOnceGuardFailureSkipsTransfer(t *testing.T) {
	ledger := &fakeLedger{}
	s, _, _ := newTestScheduler(t, ledger, WithGuard(failingGuard{err: errors.New("lease held elsewhere")}))

	out := s.RunOnce(context.Background())
	if out.Err == nil || out.Stage != StageLease {
		t.Fatalf("expected lease failure, got %+v", out)
	}
	if ledger.anchorCalls != 0 {
		t.Fatal("no ledger traffic expected without the lease")
	}
	if s.Direction() != BToA {
		t.Fatal("direction must toggle")
	}
}

func TestRunSleepsFullIntervalAfterFailure(t *testing.T) {
	ledger := &fakeLedger{anchorErr: func(int) error { return xerrors.Network(nil, "unreachable") }}
	reporter := &recordingReporter{}
	s, _, _ := newTestScheduler(t, ledger, WithReporter(reporter))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		if len(slept) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(slept) != 3 {
		t.Fatalf("expected 3 sleeps, got %d", len(slept))
	}
	for i, d := range slept {
		if d != 10*time.Minute {
			t.Fatalf("sleep %d lasted %s, want the full interval", i, d)
		}
	}
	wantDirs := []Direction{AToB, BToA, AToB}
	for i, o := range reporter.outcomes {
		if !errors.Is(o.Err, xerrors.ErrNetwork) {
			t.Fatalf("cycle %d: expected network failure, got %v", i, o.Err)
		}
		if o.Direction != wantDirs[i] {
			t.Fatalf("cycle %d: direction %s, want %s", i, o.Direction, wantDirs[i])
		}
	}
	if s.Direction() != BToA {
		t.Fatalf("expected B → A after three cycles, got %s", s.Direction())
	}
}

func TestCancellationDoesNotInterruptCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := &fakeLedger{onSubmit: cancel}
	s, _, _ := newTestScheduler(t, ledger)
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}

	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(ledger.confirmCtx) != 1 || ledger.confirmCtx[0] != nil {
		t.Fatalf("confirm must run with a live context, got %v", ledger.confirmCtx)
	}
	if ledger.anchorCalls != 1 {
		t.Fatalf("expected exactly one cycle, got %d", ledger.anchorCalls)
	}
}

func TestNewRejectsInvalidSetup(t *testing.T) {
	a, b := newWallets(t)
	gen := newGenerator(t)
	cfg := Config{Interval: time.Minute, ConfirmTimeout: time.Second}

	if _, err := New(a, a, gen, solclient.NewBuilder(), &fakeLedger{}, cfg); !errors.Is(err, xerrors.ErrConfig) {
		t.Fatalf("expected config error for identical wallets, got %v", err)
	}
	if _, err := New(a, web3.Identity{}, gen, solclient.NewBuilder(), &fakeLedger{}, cfg); !errors.Is(err, xerrors.ErrConfig) {
		t.Fatalf("expected config error for missing wallet, got %v", err)
	}
	if _, err := New(a, b, gen, solclient.NewBuilder(), &fakeLedger{}, Config{}); !errors.Is(err, xerrors.ErrConfig) {
		t.Fatalf("expected config error for zero interval, got %v", err)
	}
}
