package sshproxy

// ring is a fixed-capacity history buffer. Once full, each push overwrites
// the oldest entry.
type ring[T any] struct {
	items []T
	head  int // next write position
	count int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// snapshot returns the entries oldest first, or nil when empty.
func (r *ring[T]) snapshot() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	if r.count < len(r.items) {
		copy(out, r.items[:r.count])
		return out
	}
	n := copy(out, r.items[r.head:])
	copy(out[n:], r.items[:r.head])
	return out
}
