package meta

import (
	"os"
	"regexp"
)

var envExpr = regexp.MustCompile(`\$\{(env\.)?([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${KEY} and ${env.KEY} with the value of the environment
// variable KEY ("" if unset). Other uses of '$' are left untouched.
func expandEnv(value string) string {
	return envExpr.ReplaceAllStringFunc(value, func(expr string) string {
		match := envExpr.FindStringSubmatch(expr)
		return os.Getenv(match[2])
	})
}
