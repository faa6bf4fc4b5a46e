package osc

import "container/list"

// AddressCache holds a bounded set of already-4-byte-padded address
// strings so repeated addresses (spec.md §4.3 — e.g. the same synth
// node's control address sent every audio buffer) skip re-padding and
// re-allocating their encoded form.
type AddressCache struct {
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type addrEntry struct {
	address string
	encoded []byte
}

// NewAddressCache returns an AddressCache bounded to capacity entries.
func NewAddressCache(capacity int) *AddressCache {
	return &AddressCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Encode returns the 4-byte-padded wire form of address, from the cache
// if present, else computing and inserting it (evicting the
// least-recently-used entry if the cache is full).
func (c *AddressCache) Encode(address string) []byte {
	if el, ok := c.entries[address]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*addrEntry).encoded
	}

	encoded := writeString(nil, address)
	el := c.order.PushFront(&addrEntry{address: address, encoded: encoded})
	c.entries[address] = el

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*addrEntry).address)
		}
	}
	return encoded
}

// Len returns the current number of cached addresses.
func (c *AddressCache) Len() int { return c.order.Len() }
