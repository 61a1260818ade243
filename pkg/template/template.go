package template

import (
	"sort"
	"strings"
)

// ApplyTemplate replaces every {KEY} token in templateStr with vars[KEY].
// Tokens without a value are left in place. Keys are applied longest first
// so that {MODEL_NAME} is not clobbered by {MODEL}.
func ApplyTemplate(templateStr string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(templateStr, "{") {
		return templateStr
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(templateStr)
}
