// Package decaymap is a generic map whose entries expire after a per-entry
// time to live.
package decaymap

import (
	"sync"
	"time"
)

func zilch[T any]() T {
	var zero T
	return zero
}

// Impl is a lazy key->value map. It's a wrapper around a map and a mutex. If
// values exceed their time-to-live, they are pruned at Get time or during
// the next Cleanup pass.
type Impl[K comparable, V any] struct {
	data map[K]decayMapEntry[V]
	lock sync.RWMutex

	// now is swapped out in tests.
	now func() time.Time
}

type decayMapEntry[V any] struct {
	Value  V
	expiry time.Time
}

// New creates a new DecayMap of key type K and value type V.
//
// Key types must be comparable to work with maps.
func New[K comparable, V any]() *Impl[K, V] {
	return &Impl[K, V]{
		data: make(map[K]decayMapEntry[V]),
		now:  time.Now,
	}
}

// expire forcibly expires a key by setting its time-to-live one second in
// the past.
func (m *Impl[K, V]) expire(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	val, ok := m.data[key]
	if !ok {
		return false
	}

	val.expiry = m.now().Add(-1 * time.Second)
	m.data[key] = val

	return true
}

// Delete removes a key. It returns false if the key was not present or had
// already expired.
func (m *Impl[K, V]) Delete(key K) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	val, ok := m.data[key]
	if !ok {
		return false
	}

	delete(m.data, key)

	return m.now().Before(val.expiry)
}

// Get gets a value from the DecayMap by key.
//
// If a value has expired, forcibly delete it if it was not updated.
func (m *Impl[K, V]) Get(key K) (V, bool) {
	m.lock.RLock()
	value, ok := m.data[key]
	m.lock.RUnlock()

	if !ok {
		return zilch[V](), false
	}

	if m.now().After(value.expiry) {
		m.lock.Lock()
		// Since previously reading m.data[key], the value may have been updated.
		// Delete the entry only if the expiry time is still the same.
		if m.data[key].expiry.Equal(value.expiry) {
			delete(m.data, key)
		}
		m.lock.Unlock()

		return zilch[V](), false
	}

	return value.Value, true
}

// Set sets a key value pair in the map.
func (m *Impl[K, V]) Set(key K, value V, ttl time.Duration) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data[key] = decayMapEntry[V]{
		Value:  value,
		expiry: m.now().Add(ttl),
	}
}

// Cleanup removes all expired entries from the DecayMap and returns how many
// were removed.
func (m *Impl[K, V]) Cleanup() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	var removed int
	for key, val := range m.data {
		if now.After(val.expiry) {
			delete(m.data, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of entries in the map, expired or not.
func (m *Impl[K, V]) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.data)
}
