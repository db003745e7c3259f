package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"cliccoins/internal/db"
)

type fullGateway interface {
	Gateway
	BatchSetter
	Claimer
}

func gateways(t *testing.T) map[string]fullGateway {
	t.Helper()
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	lite := NewSQLite(sqlDB)
	if err := lite.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return map[string]fullGateway{
		"memory": NewMemory(),
		"sqlite": lite,
	}
}

func TestGatewayGetSetDelete(t *testing.T) {
	ctx := context.Background()
	for name, gw := range gateways(t) {
		if _, err := gw.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
		if err := gw.Set(ctx, "k", []byte("v1")); err != nil {
			t.Fatalf("%s: set: %v", name, err)
		}
		if err := gw.Set(ctx, "k", []byte("v2")); err != nil {
			t.Fatalf("%s: overwrite: %v", name, err)
		}
		got, err := gw.Get(ctx, "k")
		if err != nil || string(got) != "v2" {
			t.Fatalf("%s: get got=%q err=%v", name, got, err)
		}
		if err := gw.Delete(ctx, "k"); err != nil {
			t.Fatalf("%s: delete: %v", name, err)
		}
		if _, err := gw.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected deleted key to be gone, got %v", name, err)
		}
		if err := gw.Delete(ctx, "k"); err != nil {
			t.Fatalf("%s: deleting a missing key should succeed: %v", name, err)
		}
	}
}

func TestGatewaySetManyAndClaim(t *testing.T) {
	ctx := context.Background()
	for name, gw := range gateways(t) {
		if err := gw.SetMany(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}); err != nil {
			t.Fatalf("%s: set many: %v", name, err)
		}
		for k, want := range map[string]string{"a": "1", "b": "2"} {
			got, err := gw.Get(ctx, k)
			if err != nil || string(got) != want {
				t.Fatalf("%s: %s got=%q err=%v", name, k, got, err)
			}
		}

		ok, err := gw.SetIfAbsent(ctx, "claim", []byte("x"))
		if err != nil || !ok {
			t.Fatalf("%s: first claim ok=%v err=%v", name, ok, err)
		}
		ok, err = gw.SetIfAbsent(ctx, "claim", []byte("y"))
		if err != nil || ok {
			t.Fatalf("%s: second claim ok=%v err=%v", name, ok, err)
		}
		got, _ := gw.Get(ctx, "claim")
		if string(got) != "x" {
			t.Fatalf("%s: claim overwritten with %q", name, got)
		}
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	if err := m.Set(ctx, "k", buf); err != nil {
		t.Fatalf("set: %v", err)
	}
	buf[0] = 'z'
	got, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
	if m.Len() != 1 {
		t.Fatalf("len=%d want 1", m.Len())
	}
}
