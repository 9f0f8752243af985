// Package config loads the cinema.yaml file whose values act as defaults
// for command flags.
package config

import (
	"os"
	"regexp"
)

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes environment references in a config document.
// ${NAME} becomes the value of NAME. ${NAME:-fallback} becomes fallback
// when NAME is unset or empty. A reference with no value and no fallback
// expands to the empty string, so a required key such as adapter.url then
// fails validation instead of expansion.
func ExpandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[2]
	})
}
