package runner

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/timmy/enrollflow/internal/config"
	"github.com/timmy/enrollflow/internal/domain"
)

// DefaultCategory is the script binding used when a category has none of its own.
const DefaultCategory = "default"

var (
	// ErrNoScript is returned when no worker script serves a category.
	ErrNoScript = errors.New("no worker script configured for category")

	// ErrInvalidParam is returned for parameter names that cannot be
	// environment variables or values that cannot be passed safely.
	ErrInvalidParam = errors.New("invalid worker parameter")
)

var paramNamePattern = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// baseEnv is always forwarded when a passthrough list is configured.
var baseEnv = []string{"PATH", "HOME", "TMPDIR", "LANG", "TZ"}

// Selector resolves the worker command for a job.
type Selector interface {
	Select(spec JobSpec) (Command, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(spec JobSpec) (Command, error)

// Select calls f.
func (f SelectorFunc) Select(spec JobSpec) (Command, error) { return f(spec) }

// ConfigSelector maps categories to scripts from worker configuration.
type ConfigSelector struct {
	command string
	workdir string
	scripts map[string]*config.WorkerScriptConfig
	environ func() []string
}

// NewConfigSelector creates a selector from cfg.
func NewConfigSelector(cfg *config.WorkerConfig) *ConfigSelector {
	scripts := make(map[string]*config.WorkerScriptConfig, len(cfg.Scripts))
	for i := range cfg.Scripts {
		sc := cfg.Scripts[i].Clone()
		scripts[sc.Category] = sc
	}
	return &ConfigSelector{
		command: cfg.Command,
		workdir: cfg.Workdir,
		scripts: scripts,
		environ: os.Environ,
	}
}

// Categories returns the categories with an explicit script binding.
func (s *ConfigSelector) Categories() []string {
	out := make([]string, 0, len(s.scripts))
	for name := range s.scripts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Select builds the command for spec.Category, falling back to the default binding.
func (s *ConfigSelector) Select(spec JobSpec) (Command, error) {
	sc, ok := s.scripts[string(spec.Category)]
	if !ok {
		sc, ok = s.scripts[DefaultCategory]
	}
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrNoScript, spec.Category)
	}

	env, err := BuildEnv(s.environ(), sc.Passthrough, spec.Env())
	if err != nil {
		return Command{}, err
	}

	args := append([]string{sc.Script}, sc.Args...)
	return Command{
		Path: s.command,
		Args: args,
		Dir:  s.workdir,
		Env:  env,
	}, nil
}

// BuildEnv assembles a worker environment. With an empty passthrough list the
// whole host environment is inherited; otherwise only the listed variables and
// a small base set are kept. Params are appended in key order and override
// inherited values.
func BuildEnv(host []string, passthrough []string, params map[string]string) ([]string, error) {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if !paramNamePattern.MatchString(k) {
			return nil, fmt.Errorf("%w: name %q", ErrInvalidParam, k)
		}
		if strings.ContainsRune(v, 0) {
			return nil, fmt.Errorf("%w: value of %s contains NUL", ErrInvalidParam, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var allowed map[string]bool
	if len(passthrough) > 0 {
		allowed = make(map[string]bool, len(passthrough)+len(baseEnv))
		for _, name := range baseEnv {
			allowed[name] = true
		}
		for _, name := range passthrough {
			allowed[name] = true
		}
	}

	env := make([]string, 0, len(host)+len(keys))
	for _, kv := range host {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, overridden := params[name]; overridden {
			continue
		}
		if allowed != nil && !allowed[name] {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range keys {
		env = append(env, k+"="+params[k])
	}
	return env, nil
}

// JobSpec describes one worker invocation.
type JobSpec struct {
	Category      domain.Category
	CorrelationID string
	Params        map[string]string
}

// Env returns the job parameters plus the identifying variables every worker receives.
func (s JobSpec) Env() map[string]string {
	env := make(map[string]string, len(s.Params)+2)
	for k, v := range s.Params {
		env[k] = v
	}
	env["CORRELATION_ID"] = s.CorrelationID
	env["ENROLLMENT_CATEGORY"] = string(s.Category)
	return env
}
