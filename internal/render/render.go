// Package render turns a record and its annotations into publishable bytes:
// a markdown document with YAML front matter, and for PDF records, page
// images produced by an external rasterizer.
package render

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/highmark/internal/record"
)

// Document is everything a document renderer needs for one record.
type Document struct {
	Record      record.Record
	Annotations []record.Annotation

	// DocPath and AssetDir are the record's placement, relative to the
	// output root. Image links are made relative to DocPath.
	DocPath  string
	AssetDir string

	// Pages lists the pages that have a rendered image in AssetDir.
	Pages []int
}

// DocumentRenderer renders the primary document text.
type DocumentRenderer interface {
	Render(doc Document) (string, error)
}

// PageRenderer rasterizes one page of a binary-source record. It is not
// assumed to be re-entrant.
type PageRenderer interface {
	RenderPage(ctx context.Context, rec record.Record, page int) ([]byte, error)
}

// AnnotatedPages returns the distinct known pages that carry a qualifying
// annotation, ascending.
func AnnotatedPages(anns []record.Annotation) []int {
	seen := make(map[int]bool)
	var pages []int
	for _, a := range anns {
		if a.Page <= 0 || !a.Qualifies() || seen[a.Page] {
			continue
		}
		seen[a.Page] = true
		pages = append(pages, a.Page)
	}
	sort.Ints(pages)
	return pages
}

// PageAssetName is the file name of a page image within the asset directory.
func PageAssetName(page int) string {
	return fmt.Sprintf("page-%04d.png", page)
}
