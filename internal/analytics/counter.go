package analytics

// OrderedCounter counts occurrences per name and remembers the order in which
// names were first seen. Iteration follows that order, never map order.
type OrderedCounter struct {
	names   []string
	entries map[string]*counterEntry
}

type counterEntry struct {
	count int
	code  string
}

func NewOrderedCounter() *OrderedCounter {
	return &OrderedCounter{entries: make(map[string]*counterEntry)}
}

// Add counts one occurrence of name. A non-empty code replaces the stored one,
// so the last code seen wins.
func (c *OrderedCounter) Add(name, code string) {
	entry, ok := c.entries[name]
	if !ok {
		entry = &counterEntry{}
		c.entries[name] = entry
		c.names = append(c.names, name)
	}
	entry.count++
	if code != "" {
		entry.code = code
	}
}

// Len returns the number of distinct names.
func (c *OrderedCounter) Len() int {
	return len(c.names)
}

// Each visits names in first-seen order.
func (c *OrderedCounter) Each(fn func(name string, count int, code string)) {
	for _, name := range c.names {
		entry := c.entries[name]
		fn(name, entry.count, entry.code)
	}
}
