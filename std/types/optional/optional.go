package optional

import (
	"bytes"
	"encoding/json"

	"golang.org/x/exp/constraints"
)

// Optional is a value that may be absent.
// As a JSON field it stays unset when the key is missing or null.
type Optional[T any] struct {
	value T
	isSet bool
}

func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, isSet: true}
}

func None[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) IsSet() bool {
	return o.isSet
}

func (o *Optional[T]) Set(v T) {
	o.value = v
	o.isSet = true
}

func (o *Optional[T]) Unset() {
	var zero T
	o.value = zero
	o.isSet = false
}

// Get returns the value and whether it is set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.isSet
}

// GetOr returns the value or def if unset.
func (o Optional[T]) GetOr(def T) T {
	if o.isSet {
		return o.value
	}
	return def
}

// Unwrap returns the value or panics if unset.
func (o Optional[T]) Unwrap() T {
	if !o.isSet {
		panic("Optional value is not set")
	}
	return o.value
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.isSet {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Unset()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Set(v)
	return nil
}

// CastInt converts an integer optional value to another type
func CastInt[A, B constraints.Integer](a Optional[A]) (out Optional[B]) {
	if v, ok := a.Get(); ok {
		out.Set(B(v))
	}
	return out
}
