package gateway

import "sort"

// KeySet is an insertion-ordered set of canonical keys.
type KeySet struct {
	keys []string
	seen map[string]struct{}
}

// NewKeySet returns an empty set.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// Add inserts key and reports whether it was new.
func (s *KeySet) Add(key string) bool {
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	s.keys = append(s.keys, key)
	return true
}

// Len returns the number of keys.
func (s *KeySet) Len() int {
	return len(s.keys)
}

// Keys returns the keys in insertion order. The slice is a copy.
func (s *KeySet) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Sorted returns the keys in lexical order.
func (s *KeySet) Sorted() []string {
	keys := s.Keys()
	sort.Strings(keys)
	return keys
}
