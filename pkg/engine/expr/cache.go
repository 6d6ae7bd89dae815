package expr

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 1024

// Cache is a parse-through cache of compiled expressions. Identical source
// strings share one AST; entries are immutable so concurrent readers need no
// coordination beyond the LRU's own locking.
type Cache struct {
	once sync.Once
	size int
	lru  *lru.Cache[string, *Expr]
}

// NewCache returns a cache bounded to the given number of entries. A size of
// zero selects the default.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Cache{size: size}
}

// Parse returns the compiled form of source, reusing a prior AST when one is
// cached. Parse errors are not cached; malformed sources are a configuration
// problem and should not reach steady state.
func (c *Cache) Parse(source string) (*Expr, error) {
	c.once.Do(func() {
		// lru.New only fails on a non-positive size, which the constructor rules out.
		c.lru, _ = lru.New[string, *Expr](c.size)
	})

	if compiled, ok := c.lru.Get(source); ok {
		return compiled, nil
	}

	compiled, err := Parse(source)
	if err != nil {
		return nil, err
	}
	c.lru.Add(source, compiled)
	return compiled, nil
}
