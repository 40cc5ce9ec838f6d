package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"machine/internal/api"
	"machine/internal/tasks"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestHumanStatus(t *testing.T) {
	cases := map[string]string{
		"QUEUED":    "Queued",
		"cancelled": "Cancelled",
		" WORKING ": "Working",
		"":          "",
	}
	for in, want := range cases {
		if got := humanStatus(in); got != want {
			t.Errorf("humanStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTaskCountLines(t *testing.T) {
	lines := taskCountLines(tasks.HealthSummary{Total: 3, Queued: 1, Failed: 2}, false)
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "Queued:") || !strings.Contains(lines[0], "[INFO] 1") {
		t.Fatalf("unexpected queued line %q", lines[0])
	}
	if !strings.Contains(lines[3], "[ERROR] 2") {
		t.Fatalf("failed pieces should render as errors, got %q", lines[3])
	}
	if !strings.Contains(lines[5], "Total:") || !strings.Contains(lines[5], "3") {
		t.Fatalf("unexpected total line %q", lines[5])
	}
}

func TestDaemonLinesNotRunning(t *testing.T) {
	lines := daemonLines(statusView{}, false)
	if len(lines) != 1 || !strings.Contains(lines[0], "[ERROR] Not running") {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestDaemonLinesWorking(t *testing.T) {
	view := statusView{
		Running: true,
		APIURL:  "http://127.0.0.1:7490",
		Health:  &api.HealthResponse{Detail: "ok", Database: "ok", Broker: "unavailable"},
		Worker: &api.StatusResponse{
			Status:       "WORKING",
			WorkingPiece: &api.PieceRef{PieceID: "r-1", PieceType: "A"},
			QueueSize:    2,
			LastError:    "boom",
		},
	}
	out := strings.Join(daemonLines(view, false), "\n")
	for _, want := range []string{
		"[OK] Running (http://127.0.0.1:7490)",
		"Broker:",
		"[ERROR] unavailable",
		"[WARN] Not loaded",
		"Working on A/r-1",
		"2 waiting",
		"[ERROR] boom",
	} {
		requireContains(t, out, want)
	}
}

func TestQueueTable(t *testing.T) {
	out := queueTable([]api.PieceRef{{PieceID: "r-1", PieceType: "A"}, {PieceID: "r-2", PieceType: "A"}})
	requireContains(t, out, "Piece")
	requireContains(t, out, "r-2")
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
