package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beriberikix/usbipd-mac/config"
)

func TestNewWithoutLogFileUsesSingleHandler(t *testing.T) {
	cfg := config.Default()
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if _, ok := logger.Handler().(*multiHandler); ok {
		t.Fatal("expected a single handler without a log file, got a multiHandler")
	}
}

func TestNewWithLogFileFansOutToBoth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usbipd.log")

	cfg := config.Default()
	cfg.LogFilePath = path

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if mh, ok := logger.Handler().(*multiHandler); !ok || len(mh.handlers) != 2 {
		t.Fatalf("handler = %T, want a multiHandler over stderr and the file", logger.Handler())
	}
	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("hello")) {
		t.Errorf("log file missing expected record, got: %s", data)
	}
}

func TestMultiHandlerPropagatesFirstError(t *testing.T) {
	failing := failingHandler{err: os.ErrClosed}
	ok := slog.NewJSONHandler(bytes.NewBuffer(nil), nil)
	mh := newMultiHandler(failing, ok)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0)
	if err := mh.Handle(context.Background(), r); err == nil {
		t.Fatal("expected an error from the failing handler to propagate")
	}
}

type failingHandler struct{ err error }

func (f failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (f failingHandler) Handle(context.Context, slog.Record) error { return f.err }
func (f failingHandler) WithAttrs([]slog.Attr) slog.Handler        { return f }
func (f failingHandler) WithGroup(string) slog.Handler             { return f }
