/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultGStreamerBin is the launcher used when none is configured.
const DefaultGStreamerBin = "gst-launch-1.0"

// ProcessState represents the current state of a GStreamer process
type ProcessState string

const (
	ProcessStateRunning ProcessState = "running"
	ProcessStateStopped ProcessState = "stopped"
	ProcessStateFailed  ProcessState = "failed"
)

// GStreamerProcessConfig contains configuration for launching GStreamer
type GStreamerProcessConfig struct {
	ID  string
	Bin string
	// Pipeline holds one argv element per pipeline token, so file paths may
	// contain spaces.
	Pipeline []string
	Stdin    bool
	Stdout   bool
}

var (
	errorRegex   = regexp.MustCompile(`ERROR:(.+)`)
	warningRegex = regexp.MustCompile(`WARNING:(.+)`)
)

// GStreamerProcess manages a single gst-launch process whose raw audio
// input and output travel over its stdin and stdout.
type GStreamerProcess struct {
	id     string
	cmd    *exec.Cmd
	logger zerolog.Logger

	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu        sync.RWMutex
	state     ProcessState
	lastError string
	exitErr   error
	exited    chan struct{}
	stderrEOF chan struct{}
}

// StartGStreamer launches a pipeline. The process is killed when ctx ends.
func StartGStreamer(ctx context.Context, cfg GStreamerProcessConfig, logger zerolog.Logger) (*GStreamerProcess, error) {
	bin := cfg.Bin
	if bin == "" {
		bin = DefaultGStreamerBin
	}
	args := append([]string{"-q"}, cfg.Pipeline...)

	gp := &GStreamerProcess{
		id:        cfg.ID,
		logger:    logger.With().Str("gst_process", cfg.ID).Logger(),
		exited:    make(chan struct{}),
		stderrEOF: make(chan struct{}),
	}
	gp.cmd = exec.CommandContext(ctx, bin, args...)

	var err error
	if cfg.Stdin {
		if gp.stdin, err = gp.cmd.StdinPipe(); err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}
	// stdout is a plain pipe the caller owns, so Wait never drops unread
	// tail output.
	var stdoutW *os.File
	if cfg.Stdout {
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		gp.cmd.Stdout = pw
		gp.stdout = pr
		stdoutW = pw
	}
	stderr, err := gp.cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := gp.cmd.Start(); err != nil {
		if stdoutW != nil {
			stdoutW.Close()
			gp.stdout.Close()
		}
		return nil, fmt.Errorf("failed to start %s: %w", bin, err)
	}
	if stdoutW != nil {
		stdoutW.Close()
	}
	gp.state = ProcessStateRunning

	gp.logger.Debug().
		Int("pid", gp.cmd.Process.Pid).
		Str("pipeline", strings.Join(cfg.Pipeline, " ")).
		Msg("GStreamer process started")

	go gp.monitorStderr(stderr)
	go gp.monitorProcess()
	return gp, nil
}

// Stdin returns the process input, nil unless requested.
func (gp *GStreamerProcess) Stdin() io.WriteCloser { return gp.stdin }

// Stdout returns the process output, nil unless requested.
func (gp *GStreamerProcess) Stdout() io.ReadCloser { return gp.stdout }

// Done is closed once the process has exited.
func (gp *GStreamerProcess) Done() <-chan struct{} { return gp.exited }

// Wait blocks until the process exits and returns its exit error.
func (gp *GStreamerProcess) Wait() error {
	<-gp.exited
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	return gp.exitErr
}

// LastError returns the last ERROR line GStreamer printed.
func (gp *GStreamerProcess) LastError() string {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	return gp.lastError
}

// State returns the process state.
func (gp *GStreamerProcess) State() ProcessState {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	return gp.state
}

// Stop interrupts the process and kills it if it does not exit in time.
func (gp *GStreamerProcess) Stop() error {
	select {
	case <-gp.exited:
		return nil
	default:
	}
	if gp.stdin != nil {
		_ = gp.stdin.Close()
	}
	if err := gp.cmd.Process.Signal(os.Interrupt); err != nil {
		gp.logger.Debug().Err(err).Msg("failed to send interrupt signal")
	}
	select {
	case <-gp.exited:
	case <-time.After(2 * time.Second):
		gp.logger.Warn().Msg("graceful shutdown timeout, force killing")
		if err := gp.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill gstreamer: %w", err)
		}
		<-gp.exited
	}
	return nil
}

func (gp *GStreamerProcess) monitorStderr(r io.Reader) {
	defer close(gp.stderrEOF)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case errorRegex.MatchString(line):
			msg := strings.TrimSpace(errorRegex.FindStringSubmatch(line)[1])
			gp.mu.Lock()
			gp.lastError = msg
			gp.mu.Unlock()
			gp.logger.Warn().Str("gst_error", msg).Msg("GStreamer error")
		case warningRegex.MatchString(line):
			gp.logger.Debug().Str("gst_warning", strings.TrimSpace(warningRegex.FindStringSubmatch(line)[1])).Msg("GStreamer warning")
		}
	}
}

func (gp *GStreamerProcess) monitorProcess() {
	<-gp.stderrEOF
	err := gp.cmd.Wait()

	gp.mu.Lock()
	gp.exitErr = err
	if err != nil {
		gp.state = ProcessStateFailed
	} else {
		gp.state = ProcessStateStopped
	}
	gp.mu.Unlock()
	close(gp.exited)

	if err != nil {
		gp.logger.Debug().Err(err).Msg("GStreamer process exited with error")
	}
}
