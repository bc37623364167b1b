package cxxrtl

import "sync"

// submitOrder hands out tickets under the container lock and lets callers
// submit in ticket order after the lock is released. Commands then reach
// the wire in the order their data was read.
type submitOrder struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newSubmitOrder() *submitOrder {
	o := &submitOrder{}
	o.cond = sync.NewCond(&o.mu)

	return o
}

// take must be called with the container lock held.
func (o *submitOrder) take() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := o.next
	o.next++

	return t
}

func (o *submitOrder) wait(ticket uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.serving != ticket {
		o.cond.Wait()
	}
}

func (o *submitOrder) release() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.serving++
	o.cond.Broadcast()
}
