package env

import (
	"os"
	"strings"
)

// Get returns the first non-empty value among key and its legacy aliases,
// or fallback when none is set.
func Get(key, fallback string, aliases ...string) string {
	for _, k := range append([]string{key}, aliases...) {
		if val := strings.TrimSpace(os.Getenv(k)); val != "" {
			return val
		}
	}
	return fallback
}
