package shopgraph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Bulk operations accept no GraphQL variables, so a cataloged parameterized
// query has its variables substituted textually before submission: the
// top-level declaration list is stripped and each $name placeholder is
// replaced by its JSON-encoded value.

var (
	variableDeclRe = regexp.MustCompile(`\(\$[^)]*\)`)
	operationRe    = regexp.MustCompile(`(?:query|mutation)\s+(\w+)`)
)

// InjectVariables inlines variables into a query document.
func InjectVariables(document string, variables map[string]any) (string, error) {
	out := variableDeclRe.ReplaceAllString(document, "")

	// Longest names first so $productIds never clobbers $product.
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	for _, name := range names {
		encoded, err := json.Marshal(variables[name])
		if err != nil {
			return "", fmt.Errorf("shopgraph: encode variable %s: %w", name, err)
		}
		out = strings.ReplaceAll(out, "$"+name, string(encoded))
	}
	return out, nil
}

// queryName extracts the operation name from a document for log correlation.
func queryName(document string) string {
	m := operationRe.FindStringSubmatch(document)
	if m == nil {
		return "UnknownQuery"
	}
	return m[1]
}
