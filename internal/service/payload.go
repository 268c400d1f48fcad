package service

import (
	"bytes"
	"encoding/json"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"agent-queue/internal/entity"
)

var ownerRepoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// NormalizePayload validates raw against the task contract and returns the
// cleaned payload with a job id assigned.
func NormalizePayload(raw json.RawMessage, route JobTypeRoute) (entity.TaskPayload, error) {
	var p entity.TaskPayload

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return p, entity.InvalidPayload("payload must be a JSON object")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, entity.InvalidPayload("malformed payload: %v", err)
	}

	if strings.TrimSpace(p.JobID) == "" {
		p.JobID = uuid.NewString()
	} else {
		id, err := uuid.Parse(strings.TrimSpace(p.JobID))
		if err != nil {
			return p, entity.InvalidPayload("job_id must be a uuid")
		}
		p.JobID = id.String()
	}

	p.Task.Goal = strings.TrimSpace(p.Task.Goal)
	if p.Task.Goal == "" {
		return p, entity.InvalidPayload("task.goal is required")
	}

	rt, ok := entity.ParseRuntime(string(p.Task.TargetRuntime))
	if !ok {
		return p, entity.InvalidPayload("task.target_runtime must be one of: %s", entity.RuntimeNames())
	}
	// universal names no specific CLI: any capable worker may run the job
	if rt == entity.RuntimeUniversal {
		rt = ""
	}
	p.Task.TargetRuntime = rt

	if p.Repo != nil {
		p.Repo.URL = strings.TrimSpace(p.Repo.URL)
		p.Repo.Ref = strings.TrimSpace(p.Repo.Ref)
		if p.Repo.URL == "" {
			p.Repo = nil
		}
	}
	if p.Repo == nil && route.RepoScoped {
		return p, entity.InvalidPayload("repo.url is required")
	}
	if p.Repo != nil {
		if err := validateRepoURL(p.Repo.URL); err != nil {
			return p, err
		}
	}

	wd, err := cleanWorkdir(p.Workdir)
	if err != nil {
		return p, err
	}
	p.Workdir = wd

	p.Task.Constraints = compactStrings(p.Task.Constraints)
	if len(p.Task.Inputs) > 0 {
		inputs := make(map[string][]string, len(p.Task.Inputs))
		for name, files := range p.Task.Inputs {
			name = strings.TrimSpace(name)
			if name == "" {
				return p, entity.InvalidPayload("task.inputs names must be non-empty")
			}
			inputs[name] = compactStrings(files)
		}
		p.Task.Inputs = inputs
	}
	if p.Task.Outputs != nil {
		p.Task.Outputs.Artifacts = compactStrings(p.Task.Outputs.Artifacts)
	}

	return p, nil
}

func validateRepoURL(repo string) error {
	switch {
	case ownerRepoPattern.MatchString(repo):
		return nil
	case strings.HasPrefix(repo, "git@"):
		if !strings.Contains(repo, ":") {
			return entity.InvalidPayload("repo.url must look like git@<host>:<path>")
		}
		return nil
	case strings.HasPrefix(repo, "https://"), strings.HasPrefix(repo, "http://"):
		u, err := url.Parse(repo)
		if err != nil {
			return entity.InvalidPayload("repo.url is not a valid URL")
		}
		if u.User != nil {
			return entity.InvalidPayload("repo.url must not include embedded credentials")
		}
		if u.Host == "" || u.Path == "" || u.Path == "/" {
			return entity.InvalidPayload("repo.url must include a host and repository path")
		}
		return nil
	}
	return entity.InvalidPayload("repo.url must be owner/repo, https://<host>/<path>, or git@<host>:<path>")
}

func cleanWorkdir(wd string) (string, error) {
	wd = strings.TrimSpace(wd)
	if wd == "" {
		return "", nil
	}
	if strings.HasPrefix(wd, "/") || strings.HasPrefix(wd, `\`) {
		return "", entity.InvalidPayload("workdir must be a relative path")
	}
	clean := path.Clean(strings.ReplaceAll(wd, `\`, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", entity.InvalidPayload("workdir must stay inside the repository")
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// compactStrings trims entries and drops empty ones, keeping order.
func compactStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
