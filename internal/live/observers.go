package live

import "sync"

// Observers is an ordered subscriber list with unsubscribe handles. The
// zero value is ready to use.
type Observers[F any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription[F]
}

type subscription[F any] struct {
	id uint64
	fn F
}

// Add subscribes fn and returns a handle that removes it. Calling the
// handle more than once is harmless.
func (o *Observers[F]) Add(fn F) func() {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	o.subs = append(o.subs, subscription[F]{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *Observers[F]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.subs {
		if s.id == id {
			o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
			return
		}
	}
}

// Snapshot returns subscribers in registration order.
func (o *Observers[F]) Snapshot() []F {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]F, len(o.subs))
	for i, s := range o.subs {
		out[i] = s.fn
	}
	return out
}
