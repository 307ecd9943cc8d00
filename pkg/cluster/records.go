package cluster

import (
	"sync"
	"sync/atomic"
)

// keyedRecords is a flat map of immutable records. Each key is updated
// independently with compare-and-swap, so no lock spans unrelated keys and
// readers never block writers.
type keyedRecords[K comparable, V any] struct {
	slots sync.Map // K -> *atomic.Pointer[V]
}

func (r *keyedRecords[K, V]) slot(key K) *atomic.Pointer[V] {
	if s, ok := r.slots.Load(key); ok {
		return s.(*atomic.Pointer[V])
	}
	s, _ := r.slots.LoadOrStore(key, new(atomic.Pointer[V]))
	return s.(*atomic.Pointer[V])
}

// update applies fn to the current record until the swap succeeds. fn must
// not mutate cur; it returns the replacement and whether to store it. The
// record that is current after the call is returned together with whether fn's
// replacement was stored.
func (r *keyedRecords[K, V]) update(key K, fn func(cur *V) (*V, bool)) (*V, bool) {
	s := r.slot(key)
	for {
		cur := s.Load()
		next, ok := fn(cur)
		if !ok {
			return cur, false
		}
		if s.CompareAndSwap(cur, next) {
			return next, true
		}
	}
}

func (r *keyedRecords[K, V]) load(key K) *V {
	s, ok := r.slots.Load(key)
	if !ok {
		return nil
	}
	return s.(*atomic.Pointer[V]).Load()
}

// each visits every stored record. Records are immutable, so fn may retain
// them.
func (r *keyedRecords[K, V]) each(fn func(key K, rec *V)) {
	r.slots.Range(func(k, s any) bool {
		if rec := s.(*atomic.Pointer[V]).Load(); rec != nil {
			fn(k.(K), rec)
		}
		return true
	})
}
