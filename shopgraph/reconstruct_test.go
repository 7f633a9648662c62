package shopgraph_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/yummyshop/shopgraph/shopgraph"
)

var productShape = shopgraph.Shape{
	Connections: map[string]string{
		"ProductVariant": "variants",
		"InventoryLevel": "inventoryLevels",
	},
}

func collect(t *testing.T, s *shopgraph.RecordStream) []shopgraph.Record {
	t.Helper()
	var records []shopgraph.Record
	for s.Next() {
		records = append(records, s.Record())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	return records
}

func variantEdges(t *testing.T, rec shopgraph.Record, field string) []any {
	t.Helper()
	conn, ok := rec[field].(map[string]any)
	if !ok {
		t.Fatalf("record %s has no %s connection: %v", rec.ID(), field, rec)
	}
	edges, _ := conn["edges"].([]any)
	return edges
}

func TestRecordStream_Empty(t *testing.T) {
	s := shopgraph.NewRecordStream(strings.NewReader(""), productShape)
	if records := collect(t, s); len(records) != 0 {
		t.Errorf("empty input yielded %d records, want 0", len(records))
	}
}

func TestRecordStream_RoundTrip(t *testing.T) {
	// N roots with M children each must reconstruct into exactly N records
	// with M ordered children, for a spread of N and M.
	for _, tt := range []struct{ n, m int }{{0, 0}, {1, 0}, {1, 1}, {3, 2}, {5, 7}} {
		t.Run(fmt.Sprintf("%dx%d", tt.n, tt.m), func(t *testing.T) {
			var b strings.Builder
			for i := 0; i < tt.n; i++ {
				fmt.Fprintf(&b, `{"__typename":"Product","id":"gid://shopify/Product/%d","title":"p%d"}`+"\n", i, i)
				for j := 0; j < tt.m; j++ {
					fmt.Fprintf(&b, `{"__typename":"ProductVariant","id":"gid://shopify/ProductVariant/%d-%d","sku":"v%d-%d","__parentId":"gid://shopify/Product/%d"}`+"\n", i, j, i, j, i)
				}
			}

			records := collect(t, shopgraph.NewRecordStream(strings.NewReader(b.String()), productShape))
			if len(records) != tt.n {
				t.Fatalf("got %d records, want %d", len(records), tt.n)
			}
			for i, rec := range records {
				if want := fmt.Sprintf("gid://shopify/Product/%d", i); rec.ID() != want {
					t.Errorf("record %d id = %q, want %q (input order)", i, rec.ID(), want)
				}
				if tt.m == 0 {
					if _, ok := rec["variants"]; ok {
						t.Errorf("record %d has a variants connection with no child rows", i)
					}
					continue
				}
				edges := variantEdges(t, rec, "variants")
				if len(edges) != tt.m {
					t.Fatalf("record %d has %d variants, want %d", i, len(edges), tt.m)
				}
				for j, e := range edges {
					node := e.(map[string]any)["node"].(map[string]any)
					if want := fmt.Sprintf("v%d-%d", i, j); node["sku"] != want {
						t.Errorf("record %d variant %d sku = %v, want %v (order preserved)", i, j, node["sku"], want)
					}
					if _, ok := node["__parentId"]; ok {
						t.Errorf("__parentId leaked into reconstructed child")
					}
				}
			}
		})
	}
}

func TestRecordStream_MultiLevelNesting(t *testing.T) {
	input := strings.Join([]string{
		`{"__typename":"Product","id":"p1"}`,
		`{"__typename":"ProductVariant","id":"v1","__parentId":"p1"}`,
		`{"__typename":"InventoryLevel","id":"il1","__parentId":"v1"}`,
		`{"__typename":"InventoryLevel","id":"il2","__parentId":"v1"}`,
	}, "\n")

	records := collect(t, shopgraph.NewRecordStream(strings.NewReader(input), productShape))
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	variants := variantEdges(t, records[0], "variants")
	if len(variants) != 1 {
		t.Fatalf("got %d variants, want 1", len(variants))
	}
	variant := variants[0].(map[string]any)["node"].(map[string]any)
	levels := variantEdges(t, shopgraph.Record(variant), "inventoryLevels")
	if len(levels) != 2 {
		t.Errorf("variant has %d inventory levels, want 2", len(levels))
	}
}

func TestRecordStream_DanglingParent(t *testing.T) {
	input := strings.Join([]string{
		`{"__typename":"Product","id":"p1"}`,
		`{"__typename":"Product","id":"p2"}`,
		// p1 was flushed when p2 arrived; its child is now unresolvable.
		`{"__typename":"ProductVariant","id":"v1","__parentId":"p1"}`,
	}, "\n")

	s := shopgraph.NewRecordStream(strings.NewReader(input), productShape)
	count := 0
	for s.Next() {
		count++
	}

	var re *shopgraph.ReconstructionError
	if !errors.As(s.Err(), &re) {
		t.Fatalf("expected ReconstructionError, got %v", s.Err())
	}
	if re.ParentID != "p1" || re.Line != 3 {
		t.Errorf("error detail = %+v, want parent p1 at line 3", re)
	}
	// p1 was yielded before corruption was detectable; the corrupted
	// subtree itself must not be.
	if count != 1 {
		t.Errorf("yielded %d records, want 1", count)
	}
}

func TestRecordStream_UnknownChildTypename(t *testing.T) {
	input := strings.Join([]string{
		`{"__typename":"Product","id":"p1"}`,
		`{"__typename":"Mystery","id":"m1","__parentId":"p1"}`,
	}, "\n")

	s := shopgraph.NewRecordStream(strings.NewReader(input), productShape)
	for s.Next() {
	}
	var re *shopgraph.ReconstructionError
	if !errors.As(s.Err(), &re) {
		t.Fatalf("expected ReconstructionError for unmapped typename, got %v", s.Err())
	}
}

func TestRecordStream_RootMissingID(t *testing.T) {
	s := shopgraph.NewRecordStream(strings.NewReader(`{"__typename":"Product","title":"nameless"}`), productShape)
	for s.Next() {
	}
	var re *shopgraph.ReconstructionError
	if !errors.As(s.Err(), &re) {
		t.Fatalf("expected ReconstructionError for root without id, got %v", s.Err())
	}
}

func TestRecordStream_MalformedLine(t *testing.T) {
	input := `{"__typename":"Product","id":"p1"}` + "\n" + `{"truncated":`
	s := shopgraph.NewRecordStream(strings.NewReader(input), productShape)
	for s.Next() {
	}
	var re *shopgraph.ReconstructionError
	if !errors.As(s.Err(), &re) {
		t.Fatalf("expected ReconstructionError for malformed JSON, got %v", s.Err())
	}
	if re.Line != 2 {
		t.Errorf("error line = %d, want 2", re.Line)
	}
}

func TestRecordStream_SkipsBlankLines(t *testing.T) {
	input := `{"__typename":"Product","id":"p1"}` + "\n\n" + `{"__typename":"Product","id":"p2"}` + "\n"
	records := collect(t, shopgraph.NewRecordStream(strings.NewReader(input), productShape))
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}
}

func TestRecord_DecodeIntoGeneratedType(t *testing.T) {
	input := strings.Join([]string{
		`{"__typename":"Product","id":"p1","title":"boots"}`,
		`{"__typename":"ProductVariant","id":"v1","sku":"b-1","__parentId":"p1"}`,
	}, "\n")

	type variant struct {
		ID  string `json:"id"`
		SKU string `json:"sku"`
	}
	type product struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Variants struct {
			Edges []struct {
				Node variant `json:"node"`
			} `json:"edges"`
		} `json:"variants"`
	}

	s := shopgraph.NewRecordStream(strings.NewReader(input), productShape)
	if !s.Next() {
		t.Fatalf("Next returned false: %v", s.Err())
	}
	var p product
	if err := s.Decode(&p); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if p.Title != "boots" || len(p.Variants.Edges) != 1 || p.Variants.Edges[0].Node.SKU != "b-1" {
		t.Errorf("decoded %+v, want nested variant b-1", p)
	}
}
