package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestErrorsMatchByCode(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := fmt.Errorf("fetch anchor: %w", Network(cause, "获取最新区块哈希失败"))

	if !stdErrors.Is(err, ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if stdErrors.Is(err, ErrRejected) {
		t.Fatal("network error must not match rejection")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to stay reachable through Unwrap")
	}
	if CodeOf(err) != CodeNetwork {
		t.Fatalf("unexpected code %s", CodeOf(err))
	}
	if !RetryableError(err) {
		t.Fatal("network errors are retried next cycle")
	}
}

func TestFatalOnlyForConfig(t *testing.T) {
	cases := []struct {
		err   error
		fatal bool
	}{
		{Config("缺少钱包私钥 %s", "A"), true},
		{Build("amount must be positive"), false},
		{Rejected(nil, "blockhash expired"), false},
		{Timeout(nil, "deadline"), false},
		{stdErrors.New("plain"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsFatal(tc.err); got != tc.fatal {
			t.Fatalf("IsFatal(%v) = %v, want %v", tc.err, got, tc.fatal)
		}
	}
}

func TestOptionsOverrideDefaults(t *testing.T) {
	err := New(CodeRejected, "", WithRetryable(false), WithSeverity(SeverityCritical), WithMetadata("signature", "abc"))

	if err.Message() != AttributesOf(CodeRejected).Message {
		t.Fatalf("expected default message, got %q", err.Message())
	}
	if err.Retryable() {
		t.Fatal("expected retryable override")
	}
	if err.Severity() != SeverityCritical {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	if err.Metadata()["signature"] != "abc" {
		t.Fatalf("unexpected metadata %+v", err.Metadata())
	}
	if !ShouldAlert(Timeout(nil, "")) {
		t.Fatal("timeouts should alert")
	}
}
