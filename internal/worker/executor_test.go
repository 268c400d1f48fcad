package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
	"agent-queue/internal/worker"
)

type call struct {
	dir  string
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	fail  string
}

func (r *fakeRunner) run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, call{dir: dir, name: name, args: args})
	if name == r.fail {
		return []byte("fatal: something broke\n"), errors.New("exit status 2")
	}
	return []byte("done\n"), nil
}

func jobWith(payload string) *entity.Job {
	return entity.NewJob(uuid.New(), "task", "moonmind.jobs", 0, 3, json.RawMessage(payload), "", time.Now())
}

func TestCLIExecutor_RunsTargetRuntimeInCheckout(t *testing.T) {
	root := t.TempDir()
	r := &fakeRunner{}
	e := worker.NewCLIExecutor(entity.RuntimeUniversal, root, time.Minute)
	e.Run = r.run

	job := jobWith(`{
		"repo": {"url": "o/r", "ref": "main"},
		"workdir": "services/api",
		"task": {"goal": "add retries", "constraints": ["keep API stable"], "target_runtime": "gemini"}
	}`)
	out, err := e.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(r.calls) != 2 {
		t.Fatalf("expected git clone and gemini, got %#v", r.calls)
	}
	clone := r.calls[0]
	if clone.name != "git" || strings.Join(clone.args[:5], " ") != "clone --depth 1 --branch main" {
		t.Fatalf("unexpected clone: %#v", clone)
	}
	if clone.args[5] != "https://github.com/o/r.git" {
		t.Fatalf("unexpected clone url %q", clone.args[5])
	}

	run := r.calls[1]
	wantDir := filepath.Join(root, "job-"+job.ID.String(), "repo", "services", "api")
	if run.name != "gemini" || run.args[0] != "--prompt" || run.dir != wantDir {
		t.Fatalf("unexpected cli call: %#v", run)
	}
	if !strings.Contains(run.args[1], "add retries") || !strings.Contains(run.args[1], "- keep API stable") {
		t.Fatalf("prompt missing task content: %q", run.args[1])
	}

	var res map[string]any
	if err := json.Unmarshal(out, &res); err != nil || res["runtime"] != "gemini" || res["output_tail"] != "done" {
		t.Fatalf("unexpected result %s (%v)", out, err)
	}
}

func TestCLIExecutor_Failures(t *testing.T) {
	root := t.TempDir()

	r := &fakeRunner{fail: "codex"}
	e := worker.NewCLIExecutor(entity.RuntimeCodex, root, 0)
	e.Run = r.run
	_, err := e.Execute(context.Background(), jobWith(`{"task":{"goal":"x"}}`))
	var cliErr *worker.CLIError
	if !errors.As(err, &cliErr) || worker.IsPermanent(err) {
		t.Fatalf("expected retryable CLIError, got %v", err)
	}
	if !strings.Contains(err.Error(), "fatal: something broke") {
		t.Fatalf("error should carry the output tail: %v", err)
	}
	var details map[string]any
	if err := json.Unmarshal(cliErr.Details(), &details); err != nil || details["command"] != "codex" {
		t.Fatalf("unexpected details %s", cliErr.Details())
	}

	_, err = e.Execute(context.Background(), jobWith(`{"task":{"goal":"x","target_runtime":"claude"}}`))
	if !worker.IsPermanent(err) {
		t.Fatalf("runtime mismatch must be permanent, got %v", err)
	}
}

func TestCommandFor(t *testing.T) {
	cases := map[entity.Runtime]string{
		entity.RuntimeCodex:  "codex exec",
		entity.RuntimeGemini: "gemini --prompt",
		entity.RuntimeClaude: "claude -p",
	}
	for rt, want := range cases {
		name, args := worker.CommandFor(rt, "goal")
		if got := name + " " + args[0]; got != want {
			t.Fatalf("CommandFor(%s) = %q, want %q", rt, got, want)
		}
	}
}
