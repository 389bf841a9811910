package aggregate

import "sync"

// Buffer is the shared live-bucket map. Tenant-to-partition hashing keeps
// each bucket effectively single-writer, so the mutex exists for the map
// itself and for the O(1) swap the flusher performs.
type Buffer struct {
	mu   sync.Mutex
	live map[Key]*Bucket
}

func NewBuffer() *Buffer {
	return &Buffer{live: make(map[Key]*Bucket)}
}

// Update applies fn to the bucket for key, allocating it on first touch.
func (b *Buffer) Update(key Key, fn func(*Bucket)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.live[key]
	if !ok {
		bucket = newBucket(key)
		b.live[key] = bucket
	}
	fn(bucket)
}

// Swap replaces the live map with a fresh one and returns the old buckets.
// This is the only exclusive section the flush needs; it is a pointer swap,
// not a copy.
func (b *Buffer) Swap() map[Key]*Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()

	swapped := b.live
	b.live = make(map[Key]*Bucket)
	return swapped
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}

// Get returns the live bucket for key, or nil. Intended for tests and the
// stats surface; callers must not mutate the result.
func (b *Buffer) Get(key Key) *Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live[key]
}
