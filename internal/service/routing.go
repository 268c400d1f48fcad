package service

import (
	"sort"
	"strings"

	"agent-queue/internal/entity"
)

const (
	DefaultQueue    = "moonmind.jobs"
	JobTypeTask     = "task"
	JobTypeManifest = "manifest"
	JobTypeEmbed    = "embedding"
)

type JobTypeRoute struct {
	Queue      string `yaml:"queue"`
	RepoScoped bool   `yaml:"repo_scoped"`
}

type RoutingConfig struct {
	DefaultQueue string                  `yaml:"default_queue"`
	JobTypes     map[string]JobTypeRoute `yaml:"job_types"`
	// LegacyJobTypes maps accepted legacy names to canonical job types.
	LegacyJobTypes map[string]string `yaml:"legacy_job_types"`
	// Runtimes routes jobs with a target runtime to a dedicated queue.
	Runtimes map[string]string `yaml:"runtimes"`
}

func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		DefaultQueue: DefaultQueue,
		JobTypes: map[string]JobTypeRoute{
			JobTypeTask:     {RepoScoped: true},
			JobTypeManifest: {},
			JobTypeEmbed:    {},
		},
		LegacyJobTypes: map[string]string{
			"codex_exec":  JobTypeTask,
			"codex_skill": JobTypeTask,
		},
	}
}

// Router resolves job types and queue names. It is read-only after
// construction.
type Router struct {
	defaultQueue string
	types        map[string]JobTypeRoute
	legacy       map[string]string
	runtimes     map[entity.Runtime]string
}

func NewRouter(cfg RoutingConfig) *Router {
	r := &Router{
		defaultQueue: strings.TrimSpace(cfg.DefaultQueue),
		types:        map[string]JobTypeRoute{},
		legacy:       map[string]string{},
		runtimes:     map[entity.Runtime]string{},
	}
	if r.defaultQueue == "" {
		r.defaultQueue = DefaultQueue
	}
	for name, route := range cfg.JobTypes {
		r.types[normalizeName(name)] = route
	}
	for legacy, canonical := range cfg.LegacyJobTypes {
		r.legacy[normalizeName(legacy)] = normalizeName(canonical)
	}
	for rt, q := range cfg.Runtimes {
		if parsed, ok := entity.ParseRuntime(rt); ok && parsed != "" && strings.TrimSpace(q) != "" {
			r.runtimes[parsed] = strings.TrimSpace(q)
		}
	}
	return r
}

// CanonicalType returns the canonical job type and whether typ was a legacy
// alias. ok is false for unknown types.
func (r *Router) CanonicalType(typ string) (canonical string, legacy, ok bool) {
	name := normalizeName(typ)
	if c, found := r.legacy[name]; found {
		if _, known := r.types[c]; known {
			return c, true, true
		}
	}
	if _, found := r.types[name]; found {
		return name, false, true
	}
	return "", false, false
}

func (r *Router) Route(canonicalType string) JobTypeRoute {
	return r.types[canonicalType]
}

// Resolve picks the queue for a job: runtime route, then job type route,
// then the default queue.
func (r *Router) Resolve(canonicalType string, target entity.Runtime) string {
	if target != "" {
		if q, ok := r.runtimes[target]; ok {
			return q
		}
	}
	if route, ok := r.types[canonicalType]; ok && strings.TrimSpace(route.Queue) != "" {
		return strings.TrimSpace(route.Queue)
	}
	return r.defaultQueue
}

// Queues lists every queue the router can publish to.
func (r *Router) Queues() []string {
	set := map[string]struct{}{r.defaultQueue: {}}
	for _, route := range r.types {
		if q := strings.TrimSpace(route.Queue); q != "" {
			set[q] = struct{}{}
		}
	}
	for _, q := range r.runtimes {
		set[q] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for q := range set {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

func (r *Router) JobTypes() []string {
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
