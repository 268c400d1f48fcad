package dispatcher

import "strings"

// AliasTable maps legacy queue names to canonical ones. Names not in the
// table are already canonical.
type AliasTable map[string]string

func DefaultAliases(defaultQueue string) AliasTable {
	return AliasTable{
		"codex":   defaultQueue,
		"gemini":  defaultQueue,
		"claude":  defaultQueue,
		"speckit": defaultQueue,
		"celery":  defaultQueue,
	}
}

func (a AliasTable) Canonical(name string) string {
	name = strings.TrimSpace(name)
	if c, ok := a[strings.ToLower(name)]; ok && c != "" {
		return c
	}
	return name
}
