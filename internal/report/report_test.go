package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"solshuttle/internal/amount"
	xerrors "solshuttle/internal/errors"
	"solshuttle/internal/scheduler"
	"solshuttle/internal/web3"
)

var finished = time.Date(2026, 10, 15, 9, 30, 5, 0, time.Local)

func confirmed() scheduler.Outcome {
	return scheduler.Outcome{
		CycleID:    "c-1",
		Direction:  scheduler.AToB,
		Amount:     amount.Amount{Display: decimal.RequireFromString("0.006123"), Lamports: 6_123_000},
		Receipt:    web3.Receipt{Signature: "5sig", Status: web3.StatusConfirmed, Slot: 42},
		Stage:      scheduler.StageDone,
		StartedAt:  finished.Add(-2 * time.Second),
		FinishedAt: finished,
	}
}

func TestFormatLine(t *testing.T) {
	ok := confirmed()
	if got, want := FormatLine(ok), "[2026-10-15 09:30:05] A → B | 0.006123 SOL | 5sig"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	failed := ok
	failed.Direction = scheduler.BToA
	failed.Receipt = web3.Receipt{}
	failed.Stage = scheduler.StageAnchor
	failed.Err = errors.New("connection refused")
	if got, want := FormatLine(failed), "[2026-10-15 09:30:05] B → A | 0.006123 SOL | 转账失败: connection refused"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	timedOut := ok
	timedOut.Receipt.Status = web3.StatusTimedOut
	timedOut.Err = errors.New("deadline")
	if got := FormatLine(timedOut); !strings.Contains(got, "确认超时 5sig") {
		t.Fatalf("timeout line must carry the signature, got %q", got)
	}

	noAmount := failed
	noAmount.Amount = amount.Amount{}
	if got := FormatLine(noAmount); !strings.Contains(got, "B → A | - |") {
		t.Fatalf("unexpected line without amount %q", got)
	}
}

func TestLogReporterWritesLineAndLevel(t *testing.T) {
	var logs, lines bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewLogReporter(logger, &lines)

	o := confirmed()
	o.Receipt.Status = web3.StatusTimedOut
	o.Stage = scheduler.StageConfirm
	o.Err = xerrors.Timeout(nil, "等待确认超时")
	if err := r.Report(context.Background(), o); err != nil {
		t.Fatalf("report: %v", err)
	}

	if !strings.Contains(logs.String(), "level=ERROR") && !strings.Contains(logs.String(), "level=WARN") {
		t.Fatalf("timeouts must not be logged at info: %s", logs.String())
	}
	if !strings.Contains(logs.String(), "signature=5sig") {
		t.Fatalf("signature missing from log: %s", logs.String())
	}
	if !strings.HasSuffix(lines.String(), "\n") || !strings.Contains(lines.String(), "确认超时") {
		t.Fatalf("unexpected status line %q", lines.String())
	}
}

type stubReporter struct {
	calls int
	err   error
}

func (s *stubReporter) Report(context.Context, scheduler.Outcome) error {
	s.calls++
	return s.err
}

func TestFanoutDeliversToAll(t *testing.T) {
	first := &stubReporter{err: errors.New("queue down")}
	second := &stubReporter{}
	f := NewFanout(first, nil, second)

	err := f.Report(context.Background(), confirmed())
	if err == nil || !strings.Contains(err.Error(), "queue down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("every reporter must be called once, got %d and %d", first.calls, second.calls)
	}
}

type fakeChannel struct {
	key string
	msg amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.key = key
	f.msg = msg
	return nil
}

func TestAMQPPublisherPublishesEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, queue: "transfers"}

	o := confirmed()
	o.Err = nil
	if err := p.Report(context.Background(), o); err != nil {
		t.Fatalf("report: %v", err)
	}
	if ch.key != "transfers" || ch.msg.ContentType != "application/json" || ch.msg.MessageId != "c-1" {
		t.Fatalf("unexpected publishing %+v", ch.msg)
	}
	var ev Event
	if err := json.Unmarshal(ch.msg.Body, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Status != "confirmed" || ev.Direction != "a_to_b" || ev.Lamports != 6_123_000 || ev.Signature != "5sig" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestNewAMQPPublisherRequiresURL(t *testing.T) {
	if _, err := NewAMQPPublisher(AMQPConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
