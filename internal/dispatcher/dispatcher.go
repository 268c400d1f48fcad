// Package dispatcher is the worker startup gate: it resolves the runtime
// mode and queue bindings and refuses to start when the runtime CLI is not
// usable.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"agent-queue/internal/entity"
	"agent-queue/internal/service"
)

// Env looks up an environment variable.
type Env func(key string) string

func MapEnv(m map[string]string) Env {
	return func(key string) string { return m[key] }
}

// legacyQueueEnv names the pre-unification queue variable of each runtime.
var legacyQueueEnv = map[entity.Runtime]string{
	entity.RuntimeCodex:  "CODEX_QUEUE",
	entity.RuntimeGemini: "GEMINI_CELERY_QUEUE",
	entity.RuntimeClaude: "CLAUDE_QUEUE",
}

type Config struct {
	DefaultRuntime entity.Runtime
	DefaultQueue   string
	// RuntimeQueues mirrors the routing table so a runtime worker also binds
	// the queue its targeted jobs are published to.
	RuntimeQueues  map[entity.Runtime]string
	Aliases        AliasTable
	VersionTimeout time.Duration
}

// Binding is what a worker process is allowed to claim.
type Binding struct {
	Runtime      entity.Runtime
	Capabilities []entity.Runtime
	Queues       []string
	Tools        []ToolStatus

	env Env
}

type Dispatcher struct {
	cfg        Config
	lookPath   func(file string) (string, error)
	runVersion func(ctx context.Context, path string) (string, error)
}

type Option func(*Dispatcher)

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(d *Dispatcher) { d.lookPath = fn }
}

// WithVersionRunner replaces the `<cli> --version` invocation.
func WithVersionRunner(fn func(ctx context.Context, path string) (string, error)) Option {
	return func(d *Dispatcher) { d.runVersion = fn }
}

func New(cfg Config, opts ...Option) *Dispatcher {
	if cfg.DefaultRuntime == "" {
		cfg.DefaultRuntime = entity.RuntimeCodex
	}
	if strings.TrimSpace(cfg.DefaultQueue) == "" {
		cfg.DefaultQueue = service.DefaultQueue
	}
	if cfg.Aliases == nil {
		cfg.Aliases = DefaultAliases(cfg.DefaultQueue)
	}
	if cfg.VersionTimeout <= 0 {
		cfg.VersionTimeout = 15 * time.Second
	}
	d := &Dispatcher{
		cfg:        cfg,
		lookPath:   exec.LookPath,
		runVersion: runVersion,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Resolve reads the runtime mode and queue bindings from env.
func (d *Dispatcher) Resolve(env Env) (Binding, error) {
	if env == nil {
		env = os.Getenv
	}
	raw := strings.TrimSpace(env("MOONMIND_WORKER_RUNTIME"))
	if raw == "" {
		raw = string(d.cfg.DefaultRuntime)
	}
	rt, ok := entity.ParseRuntime(raw)
	if !ok || rt == "" {
		return Binding{}, fmt.Errorf("invalid MOONMIND_WORKER_RUNTIME=%q; expected one of: %s", raw, entity.RuntimeNames())
	}

	b := Binding{
		Runtime:      rt,
		Capabilities: Capabilities(rt),
		Queues:       d.queues(rt, env),
		env:          env,
	}
	return b, nil
}

// Capabilities lists the target runtimes a worker in mode rt may execute.
func Capabilities(rt entity.Runtime) []entity.Runtime {
	if rt == entity.RuntimeUniversal {
		return append([]entity.Runtime(nil), entity.AllRuntimes...)
	}
	return []entity.Runtime{rt}
}

// queues applies the precedence MOONMIND_QUEUE > runtime legacy variable >
// CELERY_DEFAULT_QUEUE > configured defaults, canonicalizing every name.
func (d *Dispatcher) queues(rt entity.Runtime, env Env) []string {
	var names []string
	switch {
	case strings.TrimSpace(env("MOONMIND_QUEUE")) != "":
		names = strings.Split(env("MOONMIND_QUEUE"), ",")
	case legacyQueueEnv[rt] != "" && strings.TrimSpace(env(legacyQueueEnv[rt])) != "":
		names = []string{env(legacyQueueEnv[rt])}
	case strings.TrimSpace(env("CELERY_DEFAULT_QUEUE")) != "":
		names = []string{env("CELERY_DEFAULT_QUEUE")}
	default:
		names = d.defaultQueues(rt)
	}

	seen := map[string]bool{}
	out := make([]string, 0, len(names))
	for _, n := range names {
		q := d.cfg.Aliases.Canonical(n)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	if len(out) == 0 {
		out = append(out, d.cfg.DefaultQueue)
	}
	return out
}

func (d *Dispatcher) defaultQueues(rt entity.Runtime) []string {
	out := []string{d.cfg.DefaultQueue}
	if rt == entity.RuntimeUniversal {
		extra := make([]string, 0, len(d.cfg.RuntimeQueues))
		for _, q := range d.cfg.RuntimeQueues {
			extra = append(extra, q)
		}
		sort.Strings(extra)
		return append(out, extra...)
	}
	if q, ok := d.cfg.RuntimeQueues[rt]; ok {
		out = append(out, q)
	}
	return out
}

// Start resolves the binding and runs the preflight. It returns an error,
// and no binding, when the worker must not claim.
func (d *Dispatcher) Start(ctx context.Context, env Env) (Binding, error) {
	b, err := d.Resolve(env)
	if err != nil {
		return Binding{}, err
	}
	tools, err := d.Preflight(ctx, b)
	if err != nil {
		return Binding{}, fmt.Errorf("preflight for runtime %s: %w", b.Runtime, err)
	}
	b.Tools = tools

	log.Printf("[dispatcher] runtime=%s capabilities=%s queues=%s",
		b.Runtime, joinRuntimes(b.Capabilities), strings.Join(b.Queues, ","),
	)
	return b, nil
}

func joinRuntimes(rts []entity.Runtime) string {
	parts := make([]string, len(rts))
	for i, r := range rts {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}
