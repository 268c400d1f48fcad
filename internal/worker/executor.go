package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agent-queue/internal/entity"
)

const outputTailLimit = 8 * 1024

// Runner starts name with args in dir and returns its combined output.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// CLIError is a non-zero exit of a runtime CLI or git.
type CLIError struct {
	Runtime  entity.Runtime
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CLIError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	if e.Output != "" {
		msg += ": " + lastLine(e.Output)
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.Err }

func (e *CLIError) Details() json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"runtime":     e.Runtime,
		"command":     e.Command,
		"exit_code":   e.ExitCode,
		"output_tail": e.Output,
	})
	return b
}

// CLIExecutor runs the runtime CLI for a task job inside a fresh checkout
// of the job repository.
type CLIExecutor struct {
	Runtime  entity.Runtime
	WorkRoot string
	// Timeout bounds a single job; zero means no bound beyond the lease.
	Timeout time.Duration
	Run     Runner
}

func NewCLIExecutor(rt entity.Runtime, workRoot string, timeout time.Duration) *CLIExecutor {
	if workRoot == "" {
		workRoot = os.TempDir()
	}
	return &CLIExecutor{Runtime: rt, WorkRoot: workRoot, Timeout: timeout, Run: execRunner}
}

func (e *CLIExecutor) Execute(ctx context.Context, job *entity.Job) (json.RawMessage, error) {
	var p entity.TaskPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, Permanent(fmt.Errorf("decode payload: %w", err))
	}
	rt, err := e.selectRuntime(p.Task.TargetRuntime)
	if err != nil {
		return nil, Permanent(err)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	jobDir := filepath.Join(e.WorkRoot, "job-"+job.ID.String())
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare workspace: %w", err)
	}
	defer os.RemoveAll(jobDir)

	dir := jobDir
	if p.Repo != nil {
		repoDir := filepath.Join(jobDir, "repo")
		if err := e.checkout(ctx, rt, p.Repo, repoDir); err != nil {
			return nil, err
		}
		dir = repoDir
	}
	if p.Workdir != "" {
		dir = filepath.Join(dir, filepath.FromSlash(p.Workdir))
	}

	name, args := CommandFor(rt, BuildPrompt(p))
	start := time.Now()
	out, err := e.Run(ctx, dir, name, args...)
	tail := tailString(out, outputTailLimit)
	if err != nil {
		return nil, &CLIError{Runtime: rt, Command: name, ExitCode: exitCode(err), Output: tail, Err: err}
	}

	return json.Marshal(map[string]any{
		"runtime":     rt,
		"exit_code":   0,
		"duration_ms": time.Since(start).Milliseconds(),
		"output_tail": tail,
	})
}

// selectRuntime picks the CLI for a job: its target when set, otherwise
// the worker's own runtime (codex for universal workers).
func (e *CLIExecutor) selectRuntime(target entity.Runtime) (entity.Runtime, error) {
	switch {
	case target == "" || target == entity.RuntimeUniversal:
		if e.Runtime == entity.RuntimeUniversal || e.Runtime == "" {
			return entity.RuntimeCodex, nil
		}
		return e.Runtime, nil
	case e.Runtime == entity.RuntimeUniversal || e.Runtime == target:
		return target, nil
	default:
		return "", fmt.Errorf("unsupported task runtime for worker (%s): %s", e.Runtime, target)
	}
}

func (e *CLIExecutor) checkout(ctx context.Context, rt entity.Runtime, repo *entity.RepoRef, dir string) error {
	args := []string{"clone", "--depth", "1"}
	if repo.Ref != "" {
		args = append(args, "--branch", repo.Ref)
	}
	args = append(args, CloneURL(repo.URL), dir)

	out, err := e.Run(ctx, filepath.Dir(dir), "git", args...)
	if err != nil {
		return &CLIError{Runtime: rt, Command: "git clone", ExitCode: exitCode(err), Output: tailString(out, outputTailLimit), Err: err}
	}
	return nil
}

// CloneURL expands owner/repo shorthand to a GitHub https URL.
func CloneURL(u string) string {
	if strings.Contains(u, "://") || strings.HasPrefix(u, "git@") {
		return u
	}
	return "https://github.com/" + u + ".git"
}

// CommandFor returns the CLI invocation of rt for prompt.
func CommandFor(rt entity.Runtime, prompt string) (string, []string) {
	switch rt {
	case entity.RuntimeGemini:
		return "gemini", []string{"--prompt", prompt}
	case entity.RuntimeClaude:
		return "claude", []string{"-p", prompt}
	default:
		return "codex", []string{"exec", prompt}
	}
}

// BuildPrompt renders the task section of a payload as CLI instructions.
func BuildPrompt(p entity.TaskPayload) string {
	var b strings.Builder
	b.WriteString(p.Task.Goal)

	if len(p.Task.Constraints) > 0 {
		b.WriteString("\n\nConstraints:\n")
		for _, c := range p.Task.Constraints {
			b.WriteString("- " + c + "\n")
		}
	}
	if len(p.Task.Inputs) > 0 {
		b.WriteString("\nInputs:\n")
		for _, name := range sortedKeys(p.Task.Inputs) {
			b.WriteString("- " + name + ": " + strings.Join(p.Task.Inputs[name], ", ") + "\n")
		}
	}
	if o := p.Task.Outputs; o != nil {
		if o.PullRequest {
			b.WriteString("\nOpen a pull request with the change.\n")
		}
		if len(o.Artifacts) > 0 {
			b.WriteString("\nProduce these artifacts: " + strings.Join(o.Artifacts, ", ") + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func tailString(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
