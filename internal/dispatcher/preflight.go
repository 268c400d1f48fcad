package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"agent-queue/internal/entity"
)

// CLI describes the external tool behind a runtime and the variables any
// one of which proves it is authenticated.
type CLI struct {
	Runtime     entity.Runtime
	Binary      string
	Credentials []string
}

var CLIs = map[entity.Runtime]CLI{
	entity.RuntimeCodex:  {Runtime: entity.RuntimeCodex, Binary: "codex", Credentials: []string{"OPENAI_API_KEY", "CODEX_HOME"}},
	entity.RuntimeGemini: {Runtime: entity.RuntimeGemini, Binary: "gemini", Credentials: []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}},
	entity.RuntimeClaude: {Runtime: entity.RuntimeClaude, Binary: "claude", Credentials: []string{"ANTHROPIC_API_KEY", "CLAUDE_HOME"}},
}

// ToolStatus is the preflight result for one CLI.
type ToolStatus struct {
	Runtime entity.Runtime `json:"runtime"`
	Binary  string         `json:"binary"`
	Path    string         `json:"path"`
	Version string         `json:"version"`
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// RequiredCLIs lists the tools a worker in mode rt depends on. A universal
// worker needs all of them.
func RequiredCLIs(rt entity.Runtime) []CLI {
	if rt == entity.RuntimeUniversal {
		return []CLI{CLIs[entity.RuntimeCodex], CLIs[entity.RuntimeGemini], CLIs[entity.RuntimeClaude]}
	}
	if c, ok := CLIs[rt]; ok {
		return []CLI{c}
	}
	return nil
}

// Preflight checks that every CLI the binding depends on is installed,
// answers --version and has credentials configured.
func (d *Dispatcher) Preflight(ctx context.Context, b Binding) ([]ToolStatus, error) {
	env := b.env
	if env == nil {
		env = os.Getenv
	}

	var (
		tools []ToolStatus
		errs  []error
	)
	for _, cli := range RequiredCLIs(b.Runtime) {
		status, err := d.checkCLI(ctx, cli, env)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tools = append(tools, status)
		log.Printf("[dispatcher] cli=%s path=%s version=%s", cli.Binary, status.Path, status.Version)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return tools, nil
}

func (d *Dispatcher) checkCLI(ctx context.Context, cli CLI, env Env) (ToolStatus, error) {
	status := ToolStatus{Runtime: cli.Runtime, Binary: cli.Binary}

	path, err := d.lookPath(cli.Binary)
	if err != nil {
		return status, fmt.Errorf("missing dependency: %s CLI is not installed or not on PATH", cli.Binary)
	}
	status.Path = path

	vctx, cancel := context.WithTimeout(ctx, d.cfg.VersionTimeout)
	defer cancel()
	out, err := d.runVersion(vctx, path)
	if err != nil {
		return status, fmt.Errorf("%s --version failed: %w", cli.Binary, err)
	}
	status.Version = versionPattern.FindString(out)
	if status.Version == "" {
		status.Version = "unknown"
	}

	for _, key := range cli.Credentials {
		if strings.TrimSpace(env(key)) != "" {
			return status, nil
		}
	}
	return status, fmt.Errorf("%s CLI is not authenticated: set one of %s", cli.Binary, strings.Join(cli.Credentials, ", "))
}

func runVersion(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if ctx.Err() != nil {
		return "", fmt.Errorf("timed out: %w", ctx.Err())
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
