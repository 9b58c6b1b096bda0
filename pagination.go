package mcp

import "strconv"

// defaultPageSize bounds listing pages unless overridden per peer.
const defaultPageSize = 50

// pagedStore keeps an ordered collection served out in bounded pages.
// Cursors are opaque to consumers; this producer encodes the next start
// offset in decimal. An unparseable cursor reads as offset zero.
type pagedStore[T any] struct {
	items    []T
	pageSize int
}

// page returns the items starting at the cursor's offset plus the cursor for
// the following page, empty when no items remain.
func (p *pagedStore[T]) page(cursor string) ([]T, string) {
	start := 0
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil && n >= 0 {
			start = n
		}
	}
	if start >= len(p.items) {
		return nil, ""
	}
	end := min(start+p.pageSize, len(p.items))
	var next string
	if end < len(p.items) {
		next = strconv.Itoa(end)
	}
	return p.items[start:end:end], next
}

// upsert replaces the item matching key, or appends it.
func (p *pagedStore[T]) upsert(item T, match func(T) bool) {
	for i, existing := range p.items {
		if match(existing) {
			p.items[i] = item
			return
		}
	}
	p.items = append(p.items, item)
}

// remove deletes every item matching the predicate, reporting whether any
// was found.
func (p *pagedStore[T]) remove(match func(T) bool) bool {
	kept := p.items[:0]
	removed := false
	for _, item := range p.items {
		if match(item) {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	p.items = kept
	return removed
}
