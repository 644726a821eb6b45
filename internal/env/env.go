// Package env composes the environment for spawned children.
package env

import (
	"os"
	"sort"
	"strings"
)

// Merge builds the child environment in "K=V" form: the OS environment as
// the base, then global overrides, then per-server overrides, later keys
// winning. Values may reference other keys as ${VAR}; expansion is a single
// pass over the composed set, so plain $VAR survives untouched for shells.
// The result is sorted for stable logs.
func Merge(global, perServer []string) []string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		put(m, kv)
	}
	for _, kv := range global {
		put(m, kv)
	}
	for _, kv := range perServer {
		put(m, kv)
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

// put parses one K=V pair into m, skipping malformed entries and empty keys.
func put(m map[string]string, kv string) {
	k, v, ok := strings.Cut(kv, "=")
	if !ok || k == "" {
		return
	}
	m[k] = v
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
