package shopgraph

import (
	"strings"
	"testing"
)

func TestInjectVariables(t *testing.T) {
	doc := `query Products($first: Int, $query: String) {
  products(first: $first, query: $query) {
    edges { node { id } }
  }
}`

	out, err := InjectVariables(doc, map[string]any{
		"first": 50,
		"query": "status:active",
	})
	if err != nil {
		t.Fatalf("InjectVariables failed: %v", err)
	}

	if strings.Contains(out, "($first") {
		t.Errorf("variable declaration not stripped:\n%s", out)
	}
	if !strings.Contains(out, "products(first: 50, query: \"status:active\")") {
		t.Errorf("variables not substituted:\n%s", out)
	}
}

func TestInjectVariables_LongestNameFirst(t *testing.T) {
	doc := `query Q($id: ID, $ids: [ID!]) { things(id: $id, ids: $ids) { id } }`

	out, err := InjectVariables(doc, map[string]any{
		"id":  "one",
		"ids": []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("InjectVariables failed: %v", err)
	}
	if !strings.Contains(out, `ids: ["a","b"]`) {
		t.Errorf("$ids clobbered by $id substitution:\n%s", out)
	}
	if !strings.Contains(out, `id: "one"`) {
		t.Errorf("$id not substituted:\n%s", out)
	}
}

func TestInjectVariables_ValueTypes(t *testing.T) {
	doc := `query Q($s: String, $n: Int, $b: Boolean) { f(s: $s, n: $n, b: $b) }`

	out, err := InjectVariables(doc, map[string]any{"s": "x", "n": 7, "b": true})
	if err != nil {
		t.Fatalf("InjectVariables failed: %v", err)
	}
	for _, want := range []string{`s: "x"`, `n: 7`, `b: true`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestQueryName(t *testing.T) {
	tests := []struct {
		doc  string
		want string
	}{
		{`query Products { products { id } }`, "Products"},
		{`mutation BulkOperationRunMutation($query: String!) { x }`, "BulkOperationRunMutation"},
		{`{ shop { id } }`, "UnknownQuery"},
	}
	for _, tt := range tests {
		if got := queryName(tt.doc); got != tt.want {
			t.Errorf("queryName(%q) = %q, want %q", tt.doc, got, tt.want)
		}
	}
}
