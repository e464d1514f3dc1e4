package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/enrollflow/internal/config"
	"github.com/timmy/enrollflow/internal/domain"
)

type fakeProcess struct {
	stdout io.Reader
	stderr io.Reader
	code   int
	block  chan struct{}
	killed bool
	mu     sync.Mutex
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdout }
func (p *fakeProcess) Stderr() io.Reader { return p.stderr }

func (p *fakeProcess) Wait() (int, error) {
	if p.block != nil {
		<-p.block
	}
	return p.code, nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

type fakeLauncher struct {
	proc    *fakeProcess
	err     error
	got     Command
	launchN int
}

func (l *fakeLauncher) Launch(_ context.Context, cmd Command) (Process, error) {
	l.launchN++
	l.got = cmd
	if l.err != nil {
		return nil, l.err
	}
	return l.proc, nil
}

func staticSelector(cmd Command) Selector {
	return SelectorFunc(func(JobSpec) (Command, error) { return cmd, nil })
}

func TestRunner_CollectsOutput(t *testing.T) {
	launcher := &fakeLauncher{proc: &fakeProcess{
		stdout: strings.NewReader("step 1\nstep 2\nInscrição finalizada com sucesso\n"),
		stderr: strings.NewReader("warn: slow page\n"),
		code:   0,
	}}
	var mirror bytes.Buffer
	r := New(launcher, staticSelector(Command{Path: "node"}), Options{Timeout: time.Second, Mirror: &mirror})

	var lines []string
	res, err := r.Run(context.Background(), JobSpec{Category: domain.CategoryOther}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "step 1\nstep 2\nInscrição finalizada com sucesso\n", res.Stdout)
	assert.Equal(t, "warn: slow page\n", res.Stderr)
	assert.Equal(t, []string{"step 1", "step 2", "Inscrição finalizada com sucesso"}, lines)
	assert.Contains(t, mirror.String(), "step 2\n")
	assert.Contains(t, mirror.String(), "warn: slow page\n")
	assert.Equal(t, 1, launcher.launchN)
}

func TestRunner_OversizedLineKeepsStream(t *testing.T) {
	huge := strings.Repeat("x", maxLineSize+10)
	launcher := &fakeLauncher{proc: &fakeProcess{
		stdout: strings.NewReader("before\n" + huge + "\nInscrição finalizada com sucesso\nno newline at end"),
		stderr: strings.NewReader(""),
	}}
	r := New(launcher, staticSelector(Command{Path: "node"}), Options{Timeout: 5 * time.Second})

	var lines []string
	res, err := r.Run(context.Background(), JobSpec{Category: domain.CategoryOther}, func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, "before", lines[0])
	assert.Len(t, lines[1], maxLineSize+len(truncatedSuffix))
	assert.True(t, strings.HasSuffix(lines[1], truncatedSuffix))
	assert.Equal(t, "Inscrição finalizada com sucesso", lines[2])
	assert.Equal(t, "no newline at end", lines[3])
	assert.Contains(t, res.Stdout, "Inscrição finalizada com sucesso\n")
}

func TestRunner_CRLFLines(t *testing.T) {
	launcher := &fakeLauncher{proc: &fakeProcess{
		stdout: strings.NewReader("one\r\n\r\ntwo\r\n"),
		stderr: strings.NewReader(""),
	}}
	r := New(launcher, staticSelector(Command{Path: "node"}), Options{Timeout: time.Second})

	res, err := r.Run(context.Background(), JobSpec{Category: domain.CategoryOther}, nil)
	require.NoError(t, err)
	assert.Equal(t, "one\n\ntwo\n", res.Stdout)
}

func TestRunner_SpawnFailure(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("exec: \"node\": executable file not found")}
	r := New(launcher, staticSelector(Command{Path: "node"}), Options{Timeout: time.Second})

	res, err := r.Run(context.Background(), JobSpec{}, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestRunner_SelectorFailureIsSpawnFailure(t *testing.T) {
	sel := SelectorFunc(func(JobSpec) (Command, error) { return Command{}, ErrNoScript })
	r := New(&fakeLauncher{}, sel, Options{Timeout: time.Second})

	_, err := r.Run(context.Background(), JobSpec{Category: domain.CategoryTransfer}, nil)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestRunner_TimeoutAbandonsWorker(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	proc := &fakeProcess{
		stdout: stdoutR,
		stderr: strings.NewReader(""),
		block:  make(chan struct{}),
	}
	t.Cleanup(func() {
		stdoutW.Close()
		close(proc.block)
	})
	go func() {
		_, _ = io.WriteString(stdoutW, "Inscrição finalizada com sucesso\n")
	}()

	r := New(&fakeLauncher{proc: proc}, staticSelector(Command{Path: "node"}), Options{
		Timeout:       50 * time.Millisecond,
		KillOnTimeout: true,
	})

	res, err := r.Run(context.Background(), JobSpec{}, nil)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, TimedOutExitCode, res.ExitCode)
	proc.mu.Lock()
	assert.True(t, proc.killed)
	proc.mu.Unlock()
}

func TestRunner_RealProcess(t *testing.T) {
	sh := requireShell(t)
	r := New(ExecLauncher{}, staticSelector(Command{
		Path: sh,
		Args: []string{"-c", `printf 'name=%s\n' "$APPLICANT_NAME"; echo oops >&2; exit 3`},
		Env:  []string{"APPLICANT_NAME=Ana'; rm -rf / #"},
	}), Options{Timeout: 10 * time.Second})

	res, err := r.Run(context.Background(), JobSpec{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "name=Ana'; rm -rf / #\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestRunner_RealProcessTimeout(t *testing.T) {
	sh := requireShell(t)
	r := New(ExecLauncher{}, staticSelector(Command{
		Path: sh,
		Args: []string{"-c", "exec sleep 30"},
	}), Options{Timeout: 300 * time.Millisecond, KillOnTimeout: true})

	start := time.Now()
	res, err := r.Run(context.Background(), JobSpec{}, nil)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, TimedOutExitCode, res.ExitCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestConfigSelector(t *testing.T) {
	sel := NewConfigSelector(&config.WorkerConfig{
		Command: "node",
		Workdir: "/srv/worker",
		Scripts: []config.WorkerScriptConfig{
			{Category: "transfer", Script: "transfer.js", Args: []string{"--headless"}},
			{Category: DefaultCategory, Script: "enroll.js", Passthrough: []string{"PORTAL_URL"}},
		},
	})
	sel.environ = func() []string {
		return []string{"PATH=/usr/bin", "PORTAL_URL=https://portal", "SECRET=x", "CORRELATION_ID=host"}
	}
	assert.Equal(t, []string{"default", "transfer"}, sel.Categories())

	cmd, err := sel.Select(JobSpec{
		Category:      domain.CategoryTransfer,
		CorrelationID: "c-1",
		Params:        map[string]string{"APPLICANT_NAME": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, "node", cmd.Path)
	assert.Equal(t, []string{"transfer.js", "--headless"}, cmd.Args)
	assert.Equal(t, "/srv/worker", cmd.Dir)
	assert.Contains(t, cmd.Env, "SECRET=x")
	assert.Contains(t, cmd.Env, "CORRELATION_ID=c-1")
	assert.NotContains(t, cmd.Env, "CORRELATION_ID=host")

	cmd, err = sel.Select(JobSpec{Category: domain.CategoryPostgraduate, CorrelationID: "c-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"enroll.js"}, cmd.Args)
	assert.Contains(t, cmd.Env, "PORTAL_URL=https://portal")
	assert.Contains(t, cmd.Env, "PATH=/usr/bin")
	assert.NotContains(t, cmd.Env, "SECRET=x")
	assert.Contains(t, cmd.Env, "ENROLLMENT_CATEGORY=postgraduate")
}

func TestConfigSelector_NoScript(t *testing.T) {
	sel := NewConfigSelector(&config.WorkerConfig{Command: "node"})
	_, err := sel.Select(JobSpec{Category: domain.CategoryOther})
	assert.ErrorIs(t, err, ErrNoScript)
}

func TestBuildEnv(t *testing.T) {
	env, err := BuildEnv(nil, nil, map[string]string{"B_VAR": "2", "A_VAR": "1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A_VAR=1", "B_VAR=2"}, env)

	_, err = BuildEnv(nil, nil, map[string]string{"bad name": "x"})
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = BuildEnv(nil, nil, map[string]string{"OK": "a\x00b"})
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func requireShell(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}
