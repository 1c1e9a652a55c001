package mediaengine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fakeLauncher(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell launcher not available")
	}
	path := filepath.Join(t.TempDir(), "gst-launch")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGStreamerProcessStdout(t *testing.T) {
	bin := fakeLauncher(t, `shift; echo "$@"`)
	proc, err := StartGStreamer(context.Background(), GStreamerProcessConfig{
		ID:       "echo",
		Bin:      bin,
		Pipeline: []string{"filesrc", "location=/music/a b.flac"},
		Stdout:   true,
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(proc.Stdout())
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "filesrc location=/music/a b.flac" {
		t.Fatalf("unexpected output %q", got)
	}
	if proc.State() != ProcessStateStopped {
		t.Fatalf("state = %s", proc.State())
	}
}

func TestGStreamerProcessRecordsError(t *testing.T) {
	bin := fakeLauncher(t, `echo "ERROR: from element /GstPipeline: no such file" >&2; exit 1`)
	proc, err := StartGStreamer(context.Background(), GStreamerProcessConfig{ID: "fail", Bin: bin}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Wait(); err == nil {
		t.Fatal("expected exit error")
	}
	if proc.State() != ProcessStateFailed {
		t.Fatalf("state = %s", proc.State())
	}
	if !strings.Contains(proc.LastError(), "no such file") {
		t.Fatalf("last error %q", proc.LastError())
	}
}

func TestGStreamerProcessStop(t *testing.T) {
	bin := fakeLauncher(t, `exec sleep 30`)
	proc, err := StartGStreamer(context.Background(), GStreamerProcessConfig{ID: "sleep", Bin: bin, Stdin: true}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- proc.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("stop did not return")
	}
	select {
	case <-proc.Done():
	default:
		t.Fatal("process still running after stop")
	}
}

func TestStartGStreamerMissingBinary(t *testing.T) {
	_, err := StartGStreamer(context.Background(), GStreamerProcessConfig{
		ID:  "missing",
		Bin: filepath.Join(t.TempDir(), "nope"),
	}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected start error")
	}
}
