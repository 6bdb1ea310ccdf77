package persistence

import (
	"strings"

	"gorm.io/gorm/clause"
)

// sortColumns is a whitelist of orderable columns for one listing
type sortColumns struct {
	columns  map[string]struct{}
	fallback string
}

func newSortColumns(fallback string, columns ...string) sortColumns {
	set := make(map[string]struct{}, len(columns)+1)
	set[fallback] = struct{}{}
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return sortColumns{columns: set, fallback: fallback}
}

// Allows reports whether column may appear in ORDER BY.
func (s sortColumns) Allows(column string) bool {
	_, ok := s.columns[column]
	return ok
}

// OrderBy resolves a caller-supplied column and direction. Anything outside
// the whitelist falls back to the default column; any direction other than
// asc sorts descending.
func (s sortColumns) OrderBy(column, dir string) clause.OrderByColumn {
	column = strings.TrimSpace(column)
	if !s.Allows(column) {
		column = s.fallback
	}
	return clause.OrderByColumn{
		Column: clause.Column{Name: column},
		Desc:   !strings.EqualFold(strings.TrimSpace(dir), "asc"),
	}
}

var (
	jobSortColumns          = newSortColumns("created_at", "updated_at", "started_at", "ended_at", "job_type", "status")
	conflictSortColumns     = newSortColumns("detected_at", "created_at", "updated_at", "severity", "status")
	priceHistorySortColumns = newSortColumns("created_at", "percent_change", "amount_change")
)
