// Package cachetest holds the behavior every cache.Cache implementation
// must show, runnable from each adapter's tests.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/lspindex/internal/port/cache"
)

// Run exercises c with keys in the sym.<hex> form the index service uses.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "sym.0001", []byte(`[{"name":"x"}]`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "sym.0001")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `[{"name":"x"}]` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "sym.ffff")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "sym.0002", []byte("v"), time.Minute)
		if err := c.Delete(ctx, "sym.0002"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "sym.0002")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := c.Delete(ctx, "sym.dead"); err != nil {
			t.Fatalf("Delete of missing key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "sym.0003", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "sym.0003", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "sym.0003")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %q (found=%v)", val, found)
		}
	})
}
