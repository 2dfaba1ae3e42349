package containers

// InvalidID is never handed out by an Arena.
const InvalidID uint32 = ^uint32(0)

// Arena stores values under stable ids. Released ids are recycled, so an id
// is only meaningful while the value it was issued for is alive.
type Arena[T any] struct {
	slots []T
	used  []bool
	free  []uint32
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores v and returns its id, reusing a free slot when one exists.
func (a *Arena[T]) Insert(v T) uint32 {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[id] = v
		a.used[id] = true
		return id
	}
	a.slots = append(a.slots, v)
	a.used = append(a.used, true)
	return uint32(len(a.slots) - 1)
}

func (a *Arena[T]) Get(id uint32) (T, bool) {
	if id >= uint32(len(a.slots)) || !a.used[id] {
		var zero T
		return zero, false
	}
	return a.slots[id], true
}

// Remove releases id. It reports false when id was not in use.
func (a *Arena[T]) Remove(id uint32) bool {
	if id >= uint32(len(a.slots)) || !a.used[id] {
		return false
	}
	var zero T
	a.slots[id] = zero
	a.used[id] = false
	a.free = append(a.free, id)
	return true
}

// Len is the number of live entries.
func (a *Arena[T]) Len() int {
	return len(a.slots) - len(a.free)
}

// Each calls fn for every live entry in id order.
func (a *Arena[T]) Each(fn func(id uint32, v T)) {
	for i := range a.slots {
		if a.used[i] {
			fn(uint32(i), a.slots[i])
		}
	}
}
