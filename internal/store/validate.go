package store

import "fmt"

// MaxProjectFilterLength bounds the project substring filter.
const MaxProjectFilterLength = 255

// MaxSearchLimit bounds SearchFilter.Limit at the store layer.
const MaxSearchLimit = 10000

// ValidateFilter checks a filter before it reaches SQL.
func ValidateFilter(f SearchFilter) error {
	if len(f.Project) > MaxProjectFilterLength {
		return fmt.Errorf("%w: project filter too long: %d chars (max %d)", ErrInvalidFilter, len(f.Project), MaxProjectFilterLength)
	}
	if f.Role != "" && !ValidRole(f.Role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidFilter, f.Role)
	}
	if f.After != nil && f.Before != nil && f.After.After(*f.Before) {
		return fmt.Errorf("%w: after is later than before", ErrInvalidFilter)
	}
	if f.MaxDistance < 0 || f.MaxDistance > 2 {
		return fmt.Errorf("%w: max distance %.3f outside [0, 2]", ErrInvalidFilter, f.MaxDistance)
	}
	if f.Limit <= 0 || f.Limit > MaxSearchLimit {
		return fmt.Errorf("%w: limit %d outside [1, %d]", ErrInvalidFilter, f.Limit, MaxSearchLimit)
	}
	return nil
}

// EscapeLike escapes LIKE wildcards so the value matches literally.
func EscapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
