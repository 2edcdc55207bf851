package session

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DefaultWarningLimit bounds the number of distinct warnings kept.
const DefaultWarningLimit = 100

// WarningSet collects distinct warning messages. When a new message would
// exceed the limit the set is cleared first, so a flood of distinct
// warnings cannot grow it without bound. Safe for concurrent use.
type WarningSet struct {
	mu    sync.Mutex
	limit int
	items map[string]struct{}
}

// NewWarningSet creates a set holding at most limit messages.
func NewWarningSet(limit int) *WarningSet {
	if limit <= 0 {
		limit = DefaultWarningLimit
	}
	return &WarningSet{limit: limit, items: make(map[string]struct{})}
}

// Add records msg and reports whether it was new.
func (w *WarningSet) Add(msg string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.items[msg]; ok {
		return false
	}
	if len(w.items) >= w.limit {
		w.items = make(map[string]struct{})
	}
	w.items[msg] = struct{}{}
	return true
}

// List returns the messages in lexical order.
func (w *WarningSet) List() []string {
	w.mu.Lock()
	keys := maps.Keys(w.items)
	w.mu.Unlock()

	slices.Sort(keys)
	return keys
}

func (w *WarningSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

func (w *WarningSet) Clear() {
	w.mu.Lock()
	w.items = make(map[string]struct{})
	w.mu.Unlock()
}
