package network

import "sync/atomic"

// Slot owns one network sub-client at a time. Every object placed in the
// slot gets a new generation; handles remember the generation they were
// issued for and go dead as soon as the slot is cleared or refilled.
type Slot[T any] struct {
	cur atomic.Pointer[slotEntry[T]]
	gen atomic.Uint64
}

type slotEntry[T any] struct {
	obj T
	gen uint64
}

// Set places obj in the slot, invalidating handles to the previous object,
// and returns a handle to obj.
func (s *Slot[T]) Set(obj T) Handle[T] {
	e := &slotEntry[T]{obj: obj, gen: s.gen.Add(1)}
	s.cur.Store(e)
	return Handle[T]{slot: s, gen: e.gen}
}

// Clear empties the slot and returns the object it held.
func (s *Slot[T]) Clear() (T, bool) {
	e := s.cur.Swap(nil)
	if e == nil {
		var zero T
		return zero, false
	}
	return e.obj, true
}

// Handle returns a handle to the current object, or a dead handle when the
// slot is empty.
func (s *Slot[T]) Handle() Handle[T] {
	e := s.cur.Load()
	if e == nil {
		return Handle[T]{}
	}
	return Handle[T]{slot: s, gen: e.gen}
}

// Handle is a non-owning reference to an object held in a Slot. The zero
// value is a dead handle.
type Handle[T any] struct {
	slot *Slot[T]
	gen  uint64
}

// Get resolves the handle. It reports false once the object it was issued
// for has been torn down or replaced.
func (h Handle[T]) Get() (T, bool) {
	var zero T
	if h.slot == nil {
		return zero, false
	}
	e := h.slot.cur.Load()
	if e == nil || e.gen != h.gen {
		return zero, false
	}
	return e.obj, true
}

// Do runs fn with the resolved object and reports whether it ran. A dead
// handle is a no-op.
func (h Handle[T]) Do(fn func(T)) bool {
	obj, ok := h.Get()
	if !ok {
		return false
	}
	fn(obj)
	return true
}

// Alive reports whether Get would succeed right now.
func (h Handle[T]) Alive() bool {
	_, ok := h.Get()
	return ok
}
