package entity

import (
	"encoding/json"
	"sort"
	"strings"
)

// Runtime names a CLI-backed execution engine a worker wraps.
type Runtime string

const (
	RuntimeCodex     Runtime = "codex"
	RuntimeGemini    Runtime = "gemini"
	RuntimeClaude    Runtime = "claude"
	RuntimeUniversal Runtime = "universal"
)

var AllRuntimes = []Runtime{RuntimeCodex, RuntimeGemini, RuntimeClaude, RuntimeUniversal}

// ParseRuntime normalizes s. The empty string parses to the empty runtime.
func ParseRuntime(s string) (Runtime, bool) {
	r := Runtime(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return "", true
	}
	for _, v := range AllRuntimes {
		if r == v {
			return r, true
		}
	}
	return "", false
}

func RuntimeNames() string {
	names := make([]string, 0, len(AllRuntimes))
	for _, r := range AllRuntimes {
		names = append(names, string(r))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// TaskPayload is the runtime-neutral job submission contract.
type TaskPayload struct {
	JobID        string         `json:"job_id,omitempty"`
	Repo         *RepoRef       `json:"repo,omitempty"`
	Workdir      string         `json:"workdir,omitempty"`
	Task         TaskSpec       `json:"task"`
	RuntimeHints map[string]any `json:"runtime_hints,omitempty"`
}

type RepoRef struct {
	URL string `json:"url"`
	Ref string `json:"ref,omitempty"`
}

type TaskSpec struct {
	Goal          string              `json:"goal"`
	Constraints   []string            `json:"constraints,omitempty"`
	Inputs        map[string][]string `json:"inputs,omitempty"`
	Outputs       *TaskOutputs        `json:"outputs,omitempty"`
	TargetRuntime Runtime             `json:"target_runtime,omitempty"`
}

// TaskOutputs is the requested-artifact mapping. Keys other than
// pull_request and artifacts are kept verbatim in Extra.
type TaskOutputs struct {
	PullRequest bool                       `json:"pull_request,omitempty"`
	Artifacts   []string                   `json:"artifacts,omitempty"`
	Extra       map[string]json.RawMessage `json:"-"`
}

func (o *TaskOutputs) UnmarshalJSON(b []byte) error {
	type known TaskOutputs
	var k known
	if err := json.Unmarshal(b, &k); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	delete(all, "pull_request")
	delete(all, "artifacts")
	if len(all) > 0 {
		k.Extra = all
	}
	*o = TaskOutputs(k)
	return nil
}

func (o TaskOutputs) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(o.Extra)+2)
	for k, v := range o.Extra {
		m[k] = v
	}
	if o.PullRequest {
		m["pull_request"] = true
	}
	if len(o.Artifacts) > 0 {
		m["artifacts"] = o.Artifacts
	}
	return json.Marshal(m)
}
