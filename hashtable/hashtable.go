// Package hashtable provides a sharded, lock-per-bucket hash table. It
// backs the open-inode list (keyed by disk sector), which the teacher
// kernel's own fs/ufs layer de-duplicates through exactly this kind of
// structure ("open-inode de-duplication via a global list maps to a
// concurrent map keyed by inode sector number").
package hashtable

import "sync"

type elem_t[K comparable, V any] struct {
	key  K
	val  V
	next *elem_t[K, V]
}

type bucket_t[K comparable, V any] struct {
	sync.Mutex
	first *elem_t[K, V]
}

// Hashtable_t maps keys to values, sharded across a fixed bucket count
// decided at construction. Safe for concurrent use.
type Hashtable_t[K comparable, V any] struct {
	table []*bucket_t[K, V]
	hash  func(K) uint32
}

// MkHash allocates a table with nbuckets shards, hashing keys with h.
func MkHash[K comparable, V any](nbuckets int, h func(K) uint32) *Hashtable_t[K, V] {
	if nbuckets <= 0 {
		nbuckets = 1
	}
	ht := &Hashtable_t[K, V]{
		table: make([]*bucket_t[K, V], nbuckets),
		hash:  h,
	}
	for i := range ht.table {
		ht.table[i] = &bucket_t[K, V]{}
	}
	return ht
}

func (ht *Hashtable_t[K, V]) bucket(key K) *bucket_t[K, V] {
	idx := int(ht.hash(key) % uint32(len(ht.table)))
	return ht.table[idx]
}

// Get looks up key and reports whether it was present.
func (ht *Hashtable_t[K, V]) Get(key K) (V, bool) {
	b := ht.bucket(key)
	b.Lock()
	defer b.Unlock()
	for e := b.first; e != nil; e = e.next {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// Put inserts key/val, returning false without modifying the table if
// key was already present (callers that want open-inode semantics
// should check Get first and race only against themselves while
// holding a higher-level lock, matching the teacher's inode-list
// convention of serializing opens under the filesystem lock).
func (ht *Hashtable_t[K, V]) Put(key K, val V) bool {
	b := ht.bucket(key)
	b.Lock()
	defer b.Unlock()
	for e := b.first; e != nil; e = e.next {
		if e.key == key {
			return false
		}
	}
	b.first = &elem_t[K, V]{key: key, val: val, next: b.first}
	return true
}

// Del removes key if present.
func (ht *Hashtable_t[K, V]) Del(key K) {
	b := ht.bucket(key)
	b.Lock()
	defer b.Unlock()
	var prev *elem_t[K, V]
	for e := b.first; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				b.first = e.next
			} else {
				prev.next = e.next
			}
			return
		}
		prev = e
	}
}

// Len returns the total number of entries across all buckets.
func (ht *Hashtable_t[K, V]) Len() int {
	n := 0
	for _, b := range ht.table {
		b.Lock()
		for e := b.first; e != nil; e = e.next {
			n++
		}
		b.Unlock()
	}
	return n
}

// HashInt is the default hash function for int-keyed tables (sector
// numbers, swap indices).
func HashInt(k int) uint32 {
	u := uint32(k)
	u *= 2654435761
	return u
}
