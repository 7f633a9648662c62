package shopgraph_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/yummyshop/shopgraph/shopgraph"
)

func testStores(t *testing.T) map[string]shopgraph.Store {
	t.Helper()
	fs, err := shopgraph.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	return map[string]shopgraph.Store{
		"memory": shopgraph.NewMemoryStore(),
		"fs":     fs,
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Put(ctx, "exports/1/data.jsonl", strings.NewReader("hello")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			rc, err := store.Get(ctx, "exports/1/data.jsonl")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			data, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if string(data) != "hello" {
				t.Errorf("Get = %q, want hello", data)
			}
		})
	}
}

func TestStore_PutRefusesOverwrite(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Put(ctx, "a/b", strings.NewReader("one")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			err := store.Put(ctx, "a/b", strings.NewReader("two"))
			if !errors.Is(err, shopgraph.ErrPathExists) {
				t.Errorf("expected ErrPathExists, got %v", err)
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			if !errors.Is(err, shopgraph.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ExistsAndDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Put(ctx, "x", strings.NewReader("v")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if ok, _ := store.Exists(ctx, "x"); !ok {
				t.Error("Exists = false after Put")
			}
			if err := store.Delete(ctx, "x"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if ok, _ := store.Exists(ctx, "x"); ok {
				t.Error("Exists = true after Delete")
			}
			// Deleting a missing path is not an error.
			if err := store.Delete(ctx, "x"); err != nil {
				t.Errorf("Delete of missing path failed: %v", err)
			}
		})
	}
}

func TestStore_ListPrefix(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, p := range []string{"exports/1/a", "exports/1/b", "exports/10/c", "other/d"} {
				if err := store.Put(ctx, p, strings.NewReader("v")); err != nil {
					t.Fatalf("Put %s failed: %v", p, err)
				}
			}

			paths, err := store.List(ctx, "exports/1/")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			slices.Sort(paths)
			want := []string{"exports/1/a", "exports/1/b"}
			if !slices.Equal(paths, want) {
				t.Errorf("List = %v, want %v", paths, want)
			}
		})
	}
}

func TestStore_RejectsEscapingPaths(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, p := range []string{"", "../outside", "a/../../outside"} {
				if err := store.Put(ctx, p, strings.NewReader("v")); !errors.Is(err, shopgraph.ErrInvalidPath) {
					t.Errorf("Put(%q) = %v, want ErrInvalidPath", p, err)
				}
			}
		})
	}
}
