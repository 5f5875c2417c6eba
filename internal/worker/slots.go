package worker

import "context"

// SlotPool bounds how many jobs run at once. Safe for concurrent use.
type SlotPool struct {
	sem chan struct{}
}

// NewSlotPool creates a pool with size slots (at least 1).
func NewSlotPool(size int) *SlotPool {
	if size < 1 {
		size = 1
	}
	return &SlotPool{sem: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx is done. It reports whether a
// slot was taken.
func (p *SlotPool) Acquire(ctx context.Context) bool {
	select {
	case p.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Release returns a slot to the pool.
func (p *SlotPool) Release() {
	select {
	case <-p.sem:
	default:
	}
}

// InUse returns the number of taken slots.
func (p *SlotPool) InUse() int {
	return len(p.sem)
}

// Available returns the number of free slots.
func (p *SlotPool) Available() int {
	return cap(p.sem) - len(p.sem)
}

// Total returns the pool size.
func (p *SlotPool) Total() int {
	return cap(p.sem)
}
