// Package util expands ${VAR} references in configuration text. Expansion
// is strict: an unset variable fails the load rather than expanding to the
// empty string and producing a config that half-works.
package util

import (
	"fmt"
	"os"
	"regexp"
)

var envVarPattern = regexp.MustCompile(`\${([^}]+)}`)

// ExpandEnvStrict substitutes every ${VAR} in s from the environment and
// errors on the first variable that is not set.
func ExpandEnvStrict(s string) (string, error) {
	for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
	}
	return os.ExpandEnv(s), nil
}

// ReadFileExpanded reads a file and strictly env-expands its contents, the
// usual first step of loading a yaml configuration.
func ReadFileExpanded(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	expanded, err := ExpandEnvStrict(string(raw))
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", path, err)
	}
	return []byte(expanded), nil
}
