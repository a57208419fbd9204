package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestWithJobID_And_JobIDFromContext(t *testing.T) {
	ctx := context.Background()
	jobID := "MLJOB_0123456789ABCDEF"

	// Initially empty
	if got := JobIDFromContext(ctx); got != "" {
		t.Errorf("JobIDFromContext() on empty ctx = %v, want empty", got)
	}

	ctx = WithJobID(ctx, jobID)
	if got := JobIDFromContext(ctx); got != jobID {
		t.Errorf("JobIDFromContext() = %v, want %v", got, jobID)
	}
}

func TestFromContext_AttachesJobID(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewWithOptions(&buf, "info", "text")
	if err != nil {
		t.Fatalf("NewWithOptions() error = %v", err)
	}

	FromContext(context.Background(), base).Info("no job")
	if strings.Contains(buf.String(), "job_id") {
		t.Errorf("expected no job_id without context value, got: %s", buf.String())
	}

	buf.Reset()
	ctx := WithJobID(context.Background(), "MLJOB_ABC")
	FromContext(ctx, base).Info("with job")
	if !strings.Contains(buf.String(), "job_id=MLJOB_ABC") {
		t.Errorf("expected job_id attribute, got: %s", buf.String())
	}
}

func TestNew_ReturnsLogger(t *testing.T) {
	logger := New()
	if logger == nil {
		t.Error("New() returned nil")
	}
}

func TestNewWithOptions_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithOptions(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("NewWithOptions() error = %v", err)
	}

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got: %s", buf.String())
	}

	log.Warn("kept")
	if !strings.Contains(buf.String(), `"msg":"kept"`) {
		t.Errorf("expected JSON record, got: %s", buf.String())
	}
}

func TestNewWithOptions_Invalid(t *testing.T) {
	if _, err := NewWithOptions(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := NewWithOptions(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel(""); err != nil || lvl != slog.LevelInfo {
		t.Errorf("ParseLevel(\"\") = %v, %v; want info, nil", lvl, err)
	}
	if lvl, err := ParseLevel("DEBUG"); err != nil || lvl != slog.LevelDebug {
		t.Errorf("ParseLevel(DEBUG) = %v, %v; want debug, nil", lvl, err)
	}
}
