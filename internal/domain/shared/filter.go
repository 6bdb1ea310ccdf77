package shared

// Page size bounds applied by Filter.Limit
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Filter carries paging and ordering for list queries. OrderBy is a column
// name that repositories check against their own whitelist.
type Filter struct {
	Page     int
	PageSize int
	OrderBy  string
	OrderDir string
}

// DefaultFilter is the first page, newest first
func DefaultFilter() Filter {
	return Filter{Page: 1, PageSize: DefaultPageSize, OrderBy: "created_at", OrderDir: "desc"}
}

// Limit clamps PageSize to [1, MaxPageSize], using DefaultPageSize when unset.
func (f Filter) Limit() int {
	if f.PageSize <= 0 {
		return DefaultPageSize
	}
	return min(f.PageSize, MaxPageSize)
}

// Offset is the number of rows before the requested page
func (f Filter) Offset() int {
	return max(f.Page-1, 0) * f.Limit()
}
