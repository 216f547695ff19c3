package state

// Ring 고정 용량 순환 버퍼 (가장 오래된 항목부터 제거)
// 동기화는 Store가 담당
type Ring[T any] struct {
	buf  []T
	head int // 다음 쓰기 위치
	size int
}

// NewRing creates a ring with the given capacity (minimum 1)
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest item when full
func (r *Ring[T]) Push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Newest returns a copy of the items, most recent first
func (r *Ring[T]) Newest() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

// Each visits items most recent first until fn returns false
func (r *Ring[T]) Each(fn func(T) bool) {
	for i := 0; i < r.size; i++ {
		idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
		if !fn(r.buf[idx]) {
			return
		}
	}
}

// Reset replaces the contents with items given most recent first.
// Items beyond capacity (the oldest) are dropped.
func (r *Ring[T]) Reset(newestFirst []T) {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head, r.size = 0, 0

	n := len(newestFirst)
	if n > len(r.buf) {
		n = len(r.buf)
	}
	for i := n - 1; i >= 0; i-- {
		r.Push(newestFirst[i])
	}
}
