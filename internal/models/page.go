package models

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// ClampPage normalizes pagination parameters: a non-positive limit becomes
// DefaultPageSize, anything above MaxPageSize is cut down to it, and a
// negative offset becomes zero.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
