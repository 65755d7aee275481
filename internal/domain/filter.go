package domain

import "github.com/vanshika/flashback/internal/store"

// FilterParam maps a request parameter to the stored field it selects on.
type FilterParam struct {
	Param string
	Field string
}

// FilterTable is an ordered precedence list. Only one parameter is honored per
// call: the last present one in table order. Empty values count as absent and
// parameters outside the table are ignored.
type FilterTable []FilterParam

// Build returns the equality filter for the given parameter getter. With no
// recognized parameter present the filter is empty and matches every record.
func (t FilterTable) Build(get func(string) string) store.Filter {
	filter := store.Filter{}
	for _, p := range t {
		v := get(p.Param)
		if v == "" {
			continue
		}
		filter = store.Filter{p.Field: v}
	}
	return filter
}
