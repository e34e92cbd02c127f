package core

import "envnode-go/errcode"

// As asserts a payload to the concrete value type T. Pointers are not
// accepted; a nil payload is the zero value of T.
func As[T any](v any) (T, errcode.Code) {
	var zero T
	if v == nil {
		return zero, ""
	}
	t, ok := v.(T)
	if !ok {
		return zero, errcode.InvalidPayload
	}
	return t, ""
}
