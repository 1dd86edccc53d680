package secret

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

var bracedVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// escapedDollar stands in for "$$" while references are expanded.
const escapedDollar = "\x00obskit-dollar\x00"

// ExpandEnvStrict expands $VAR and ${VAR} references in s.
//
// A ${VAR} reference to an unset variable fails with ErrMissingEnv naming
// every missing variable. $VAR follows os.ExpandEnv and expands to "" when
// unset. "$$" is a literal "$".
func ExpandEnvStrict(s string) (string, error) {
	s = strings.ReplaceAll(s, "$$", escapedDollar)

	var missing []string
	for _, m := range bracedVarPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(m[1]); !ok {
			missing = append(missing, m[1])
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(slices.Compact(missing), ", "))
	}

	return strings.ReplaceAll(os.ExpandEnv(s), escapedDollar, "$"), nil
}
