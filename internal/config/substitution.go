package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{env://([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// parseVariableWithDefault splits "VAR:-default" into its parts. A bare
// "VAR" has no default.
func parseVariableWithDefault(varPart string) (varName, defaultValue string, hasDefault bool) {
	if strings.Contains(varPart, ":-") {
		parts := strings.SplitN(varPart, ":-", 2)
		return parts[0], parts[1], true
	}
	return varPart, "", false
}

// EnvSubstituter replaces ${env://VAR} and ${env://VAR:-default} patterns
// in configuration text with environment variable values. Server configs
// and hook configs both run through it before parsing, so secrets stay out
// of the files themselves.
type EnvSubstituter struct{}

// SubstituteEnvVars performs the substitution. A variable that is unset
// and has no default is an error; unset variables with defaults take the
// default.
func (e *EnvSubstituter) SubstituteEnvVars(content string) (string, error) {
	var errors []string

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varPart := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${env://")

		varName, defaultValue, hasDefault := parseVariableWithDefault(varPart)

		if envValue := os.Getenv(varName); envValue != "" {
			return envValue
		}

		if hasDefault {
			return defaultValue
		}

		errors = append(errors, fmt.Sprintf("required environment variable %s not set in %s", varName, match))
		return match
	})

	if len(errors) > 0 {
		return "", fmt.Errorf("environment variable substitution failed: %s", strings.Join(errors, ", "))
	}

	return result, nil
}

// HasEnvVars reports whether content contains ${env://...} patterns, so
// callers can skip substitution entirely for plain configs.
func HasEnvVars(content string) bool {
	return envVarPattern.MatchString(content)
}
