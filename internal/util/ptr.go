package util

// Ptr returns a pointer to the given value.
// Used for optional numeric fields such as rule limits and demographics.
func Ptr[T any](v T) *T {
	return &v
}
