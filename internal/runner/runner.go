// Package runner spawns one worker process per job, streams its output and
// enforces a wall-clock ceiling.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/timmy/enrollflow/internal/config"
	"github.com/timmy/enrollflow/internal/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout is the hard ceiling applied when none is configured.
const DefaultTimeout = 15 * time.Minute

// TimedOutExitCode is reported for runs abandoned at the ceiling.
const TimedOutExitCode = -1

const (
	maxLineSize     = 1 << 20
	truncatedSuffix = " [line truncated]"
)

// ErrSpawn wraps failures to start the worker at all.
var ErrSpawn = errors.New("worker could not be started")

// LineFunc receives each stdout line, without its trailing newline.
type LineFunc func(line string)

// Result is the resolved state of one run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// Options tune a Runner.
type Options struct {
	Timeout       time.Duration
	KillOnTimeout bool
	// Mirror receives a copy of worker stdout and stderr. Nil disables mirroring.
	Mirror io.Writer
}

// OptionsFromConfig maps worker configuration onto runner options.
func OptionsFromConfig(cfg *config.WorkerConfig) Options {
	opts := Options{
		Timeout:       cfg.Timeout,
		KillOnTimeout: cfg.KillOnTimeout,
	}
	if cfg.MirrorStdout {
		opts.Mirror = os.Stdout
	}
	return opts
}

// Runner runs exactly one worker per call. It does not pool or queue.
type Runner struct {
	launcher Launcher
	selector Selector
	opts     Options
	mirrorMu sync.Mutex
}

// New creates a Runner.
func New(launcher Launcher, selector Selector, opts Options) *Runner {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Runner{launcher: launcher, selector: selector, opts: opts}
}

// Run launches the worker for spec and blocks until it exits or the ceiling
// elapses. onLine may be nil. Errors are returned only when the worker could
// not be started; every started run resolves to a Result.
func (r *Runner) Run(ctx context.Context, spec JobSpec, onLine LineFunc) (*Result, error) {
	ctx = logger.WithField(logger.SetComponent(ctx, "runner"), logger.FieldCategory, string(spec.Category))
	ctx = logger.SetCorrelationID(ctx, spec.CorrelationID)

	cmd, err := r.selector.Select(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	start := time.Now()
	proc, err := r.launcher.Launch(ctx, cmd)
	if err != nil {
		logger.CtxError(ctx, "Failed to launch worker %s: %v", cmd.Path, err)
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	logger.CtxInfo(ctx, "Worker started: %s, timeout=%s", cmd.Path, r.opts.Timeout)

	var stdout, stderr syncBuffer
	var g errgroup.Group
	g.Go(func() error { return r.pump(proc.Stdout(), &stdout, onLine) })
	g.Go(func() error { return r.pump(proc.Stderr(), &stderr, nil) })

	type exit struct {
		code int
		err  error
	}
	done := make(chan exit, 1)
	go func() {
		// pipes must be drained before Wait closes them
		if err := g.Wait(); err != nil {
			logger.CtxWarn(ctx, "Worker output stream error: %v", err)
		}
		code, err := proc.Wait()
		done <- exit{code: code, err: err}
	}()

	timer := time.NewTimer(r.opts.Timeout)
	defer timer.Stop()

	select {
	case e := <-done:
		res := &Result{
			ExitCode: e.code,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if e.err != nil {
			logger.CtxWarn(ctx, "Worker exit status unknown: %v", e.err)
		}
		logger.With(logger.Fields{
			logger.FieldExitCode: res.ExitCode,
			logger.FieldSize:     len(res.Stdout),
		}).WithDuration(res.Duration.Milliseconds()).Info(ctx, "Worker exited")
		return res, nil

	case <-timer.C:
		if r.opts.KillOnTimeout {
			if err := proc.Kill(); err != nil {
				logger.CtxWarn(ctx, "Failed to kill timed-out worker: %v", err)
			}
		}
		res := &Result{
			ExitCode: TimedOutExitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			TimedOut: true,
			Duration: time.Since(start),
		}
		logger.With(logger.Fields{logger.FieldExitCode: res.ExitCode}).
			WithDuration(res.Duration.Milliseconds()).
			Warn(ctx, "Worker exceeded %s, abandoned (killed=%t)", r.opts.Timeout, r.opts.KillOnTimeout)
		return res, nil
	}
}

// pump copies src line by line into buf, the mirror and onLine. Lines longer
// than maxLineSize are cut and marked; the stream keeps flowing so later
// markers still reach the buffer.
func (r *Runner) pump(src io.Reader, buf *syncBuffer, onLine LineFunc) error {
	br := bufio.NewReaderSize(src, 64*1024)
	line := make([]byte, 0, 1024)
	truncated := false
	for {
		chunk, err := br.ReadSlice('\n')
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if room := maxLineSize - len(line); len(chunk) > room {
			chunk = chunk[:room]
			truncated = true
		}
		line = append(line, chunk...)

		if err == bufio.ErrBufferFull {
			continue
		}
		if err == nil || len(line) > 0 {
			text := strings.TrimSuffix(string(line), "\r")
			if truncated {
				text += truncatedSuffix
			}
			buf.WriteLine(text)
			r.mirror(text)
			if onLine != nil {
				onLine(text)
			}
			line, truncated = line[:0], false
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (r *Runner) mirror(line string) {
	if r.opts.Mirror == nil {
		return
	}
	r.mirrorMu.Lock()
	defer r.mirrorMu.Unlock()
	_, _ = io.WriteString(r.opts.Mirror, line+"\n")
}

// syncBuffer is written by a pump goroutine and read by Run, which may
// snapshot it while an abandoned worker is still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
