package procache

import "context"

// ComputeFunc produces the value of an entry the first time it is read.
type ComputeFunc[T any] func(ctx context.Context) (T, error)

// Seed declares the state a ProcessCache starts from and returns to on Reset.
//
// Keys in Values start populated. Keys in Compute start unpopulated and are
// filled by their function on first Get. A key may appear in both; the value
// is used at load and the function takes over after Invalidate.
type Seed[T any] struct {
	Values  map[string]T
	Compute map[string]ComputeFunc[T]
}

type entry[T any] struct {
	value     T
	populated bool
	compute   ComputeFunc[T]
}

// build returns a fresh entry map. clone, when set, is applied to every seed
// value so callers mutating a returned value cannot alter the seed.
func (s Seed[T]) build(clone func(T) T) map[string]*entry[T] {
	entries := make(map[string]*entry[T], len(s.Values)+len(s.Compute))
	for k, fn := range s.Compute {
		entries[k] = &entry[T]{compute: fn}
	}
	for k, v := range s.Values {
		if clone != nil {
			v = clone(v)
		}
		e, ok := entries[k]
		if !ok {
			e = &entry[T]{}
			entries[k] = e
		}
		e.value = v
		e.populated = true
	}
	return entries
}
