package env

import (
	"sort"
	"strings"
)

// WorkerEnviron returns base extended with the variables of each dotenv
// file. Later files override earlier ones; variables already set in base
// are never overridden. The result is sorted by key.
func WorkerEnviron(base []string, files ...string) ([]string, error) {
	vars := make(map[string]string)
	for _, f := range files {
		if f == "" {
			continue
		}
		loaded, err := LoadDotEnv(f)
		if err != nil {
			return nil, err
		}
		for k, v := range loaded {
			vars[k] = v
		}
	}

	merged := EnvironMap(base)
	for k, v := range vars {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return Environ(merged), nil
}

// EnvironMap converts KEY=value pairs into a map. The last duplicate wins.
func EnvironMap(environ []string) map[string]string {
	result := make(map[string]string, len(environ))
	for _, e := range environ {
		key, value, ok := strings.Cut(e, "=")
		if !ok || key == "" {
			continue
		}
		result[key] = value
	}
	return result
}

// Environ converts a map into sorted KEY=value pairs.
func Environ(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + vars[k]
	}
	return out
}
