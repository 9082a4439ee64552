// Package fallback carries a value that may be unavailable because a
// collaborator could not be reached. Callers must go through Get, so the
// degraded path cannot be forgotten.
package fallback

// Result is either an available value or a degraded marker with a reason.
type Result[T any] struct {
	value  T
	ok     bool
	reason string
}

func Available[T any](v T) Result[T] {
	return Result[T]{value: v, ok: true}
}

func Degraded[T any](reason string) Result[T] {
	return Result[T]{reason: reason}
}

// Get returns the value and whether it is available.
func (r Result[T]) Get() (T, bool) {
	return r.value, r.ok
}

// Degraded reports whether the value is unavailable.
func (r Result[T]) Degraded() bool {
	return !r.ok
}

// Reason explains why the value is unavailable. Empty when available.
func (r Result[T]) Reason() string {
	return r.reason
}
