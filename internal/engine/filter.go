package engine

import (
	"strings"

	"github.com/roach88/highmark/internal/record"
)

// Matches reports whether rec is selected by keyword. The keyword matches
// title or author, case-insensitively; an empty keyword selects everything.
func Matches(rec record.Record, keyword string) bool {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return true
	}
	return strings.Contains(strings.ToLower(rec.Title), kw) ||
		strings.Contains(strings.ToLower(rec.Author), kw)
}

// ShouldProduce decides whether a record publishes anything. EPUB records
// need a qualifying annotation; PDF records additionally need their source
// file on disk.
func ShouldProduce(kind record.Kind, stats record.Stats, sourcePresent bool) bool {
	if stats.Count <= 0 {
		return false
	}
	if kind.HasAssets() {
		return sourcePresent
	}
	return true
}
