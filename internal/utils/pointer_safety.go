package utils

// Value dereferences v, returning the zero value for nil.
func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

// ClonePtr returns a new pointer holding the same value, or nil.
func ClonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// NonEmpty returns nil for an empty string so optional fields stay absent.
func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Coalesce returns next when it is set, otherwise prev.
func Coalesce[T any](prev, next *T) *T {
	if next != nil {
		return next
	}
	return prev
}
