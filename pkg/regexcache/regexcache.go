// Package regexcache caches compiled regular expressions. The token
// and identity extractors apply ordered pattern lists on every page
// scan; caching avoids recompiling the same patterns per scan.
package regexcache

import (
	"regexp"
	"sync"
)

var cache sync.Map

// Get returns a compiled regexp for pattern, compiling it on first use.
func Get(pattern string) (*regexp.Regexp, error) {
	if cached, ok := cache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := cache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// MustGet is Get but panics on an invalid pattern. All engine patterns
// are literals, so a failure here is a programming error.
func MustGet(pattern string) *regexp.Regexp {
	re, err := Get(pattern)
	if err != nil {
		panic(err)
	}
	return re
}
