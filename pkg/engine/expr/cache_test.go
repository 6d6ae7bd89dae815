package expr

import (
	"errors"
	"testing"
)

func TestCache_ReusesCompiledExpressions(t *testing.T) {
	cache := NewCache(8)

	first, err := cache.Parse("input.name")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	second, err := cache.Parse("input.name")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if first != second {
		t.Fatalf("expected cache hit to return the same compiled expression")
	}
}

func TestCache_DoesNotCacheErrors(t *testing.T) {
	cache := NewCache(8)

	if _, err := cache.Parse("1 +"); !errors.Is(err, ErrSyntax) {
		t.Fatalf("expected ErrSyntax, got %v", err)
	}
	if _, err := cache.Parse("1 +"); !errors.Is(err, ErrSyntax) {
		t.Fatalf("expected ErrSyntax on repeat, got %v", err)
	}
}

func TestCache_EvictsBeyondCapacity(t *testing.T) {
	cache := NewCache(1)

	first, err := cache.Parse("input.a")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if _, err := cache.Parse("input.b"); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// input.a was evicted; a fresh parse yields a new AST.
	again, err := cache.Parse("input.a")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if first == again {
		t.Fatalf("expected evicted entry to be reparsed")
	}
}
