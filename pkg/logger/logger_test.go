package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesToFilesAndReport(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app", "agent.log")
	reportPath := filepath.Join(dir, "report", "transfers.log")

	if err := Init(Config{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{logPath},
		Report:      ReportConfig{Path: reportPath},
	}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Named("scheduler").Debug("cycle started", "direction", "A → B")

	writer := ReportWriter()
	if writer == nil {
		t.Fatal("expected report writer")
	}
	if _, err := fmt.Fprintln(writer, "[2026-10-15 10:00:00] A → B | 0.006 SOL | sig"); err != nil {
		t.Fatalf("write report: %v", err)
	}
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), `"component":"scheduler"`) || !strings.Contains(string(content), `"msg":"cycle started"`) {
		t.Fatalf("unexpected log content %s", content)
	}

	report, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), "A → B | 0.006 SOL | sig") {
		t.Fatalf("unexpected report content %s", report)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "verbose": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
