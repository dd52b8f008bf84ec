package pcd

import "github.com/fmpcd/fmpcd/container/pcd/pcddef"

const arenaMaxGen = 1<<12 - 1

// arena stores objects addressed by handles.
// A slot's generation changes on every reuse, so that a stale handle never resolves.
type arena[T any] struct {
	slots []arenaSlot[T]
	free  []int
	count int
}

type arenaSlot[T any] struct {
	gen   uint32
	used  bool
	value T
}

func (a *arena[T]) insert(value T) pcddef.Handle {
	var index int
	if n := len(a.free); n > 0 {
		index, a.free = a.free[n-1], a.free[:n-1]
	} else {
		index = len(a.slots)
		a.slots = append(a.slots, arenaSlot[T]{})
	}

	slot := &a.slots[index]
	slot.gen = slot.gen%arenaMaxGen + 1
	slot.used, slot.value = true, value
	a.count++
	return pcddef.MakeHandle(index, slot.gen)
}

func (a *arena[T]) get(h pcddef.Handle) (value T, ok bool) {
	index := h.Index()
	if index >= len(a.slots) {
		return value, false
	}
	slot := &a.slots[index]
	if !slot.used || slot.gen != h.Gen() {
		return value, false
	}
	return slot.value, true
}

func (a *arena[T]) remove(h pcddef.Handle) {
	if _, ok := a.get(h); !ok {
		return
	}
	index := h.Index()
	var zero T
	a.slots[index].used, a.slots[index].value = false, zero
	a.free = append(a.free, index)
	a.count--
}

func (a *arena[T]) len() int {
	return a.count
}

// each visits live objects in slot order.
func (a *arena[T]) each(fn func(h pcddef.Handle, value T)) {
	for index, slot := range a.slots {
		if slot.used {
			fn(pcddef.MakeHandle(index, slot.gen), slot.value)
		}
	}
}
