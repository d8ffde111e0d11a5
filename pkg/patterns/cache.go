package patterns

import (
	"regexp"
	"sync"
)

// regexpCache memoizes compiled globs. Pattern sets come from configuration
// and the built-in lists, so the cache is effectively bounded.
type regexpCache struct {
	mu sync.RWMutex
	m  map[string]*regexp.Regexp
}

func newRegexpCache() *regexpCache {
	return &regexpCache{m: make(map[string]*regexp.Regexp)}
}

func (c *regexpCache) get(pattern string) *regexp.Regexp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.m[pattern]
}

func (c *regexpCache) put(pattern string, re *regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[pattern] = re
}
