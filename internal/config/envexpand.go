package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} in input. An unset or empty
// variable without a default expands to the empty string; Validate catches
// the settings that must not be empty (e.g. security.secret).
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}
