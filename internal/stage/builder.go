package stage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roach88/highmark/internal/fsutil"
	"github.com/roach88/highmark/internal/placement"
	"github.com/roach88/highmark/internal/record"
	"github.com/roach88/highmark/internal/render"
)

// Output is a record rendered into the staging area.
type Output struct {
	// Document is the primary document text. Empty for null placements.
	Document string

	// AssetsDir is the staged side-asset directory, or empty when no page
	// images were rendered.
	AssetsDir string

	// Files counts the files this output will publish.
	Files int
}

// Builder renders records. Pages may be nil, in which case PDF records are
// published without page images.
type Builder struct {
	Docs   render.DocumentRenderer
	Pages  render.PageRenderer
	FS     fsutil.FS
	Logger *slog.Logger
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// Build renders rec at pl. On error the record's staging leftovers are
// discarded before returning.
func (b *Builder) Build(ctx context.Context, area *Area, rec record.Record, pl placement.Placement, anns []record.Annotation) (out *Output, err error) {
	if pl.IsNull() {
		return &Output{}, nil
	}
	defer func() {
		if err != nil {
			if derr := area.Discard(rec.ID); derr != nil {
				b.logger().Warn("discard staging leftovers", "id", rec.ID, "error", derr)
			}
		}
	}()

	out = &Output{}
	var pages []int
	if b.wantsPages(rec, pl) {
		pages, err = b.renderPages(ctx, area, rec, anns)
		if err != nil {
			return nil, err
		}
		if len(pages) > 0 {
			out.AssetsDir = area.AssetsDir(rec.ID)
		}
	}

	doc, err := b.Docs.Render(render.Document{
		Record:      rec,
		Annotations: anns,
		DocPath:     pl.DocPath,
		AssetDir:    pl.AssetDir,
		Pages:       pages,
	})
	if err != nil {
		return nil, fmt.Errorf("render document: %w", err)
	}
	out.Document = doc
	out.Files = 1 + len(pages)
	return out, nil
}

// Count reports how many files Build would publish, without rendering.
func (b *Builder) Count(rec record.Record, pl placement.Placement, anns []record.Annotation) int {
	if pl.IsNull() {
		return 0
	}
	n := 1
	if b.wantsPages(rec, pl) {
		n += len(render.AnnotatedPages(anns))
	}
	return n
}

func (b *Builder) wantsPages(rec record.Record, pl placement.Placement) bool {
	return b.Pages != nil && rec.Kind.HasAssets() && pl.AssetDir != ""
}

func (b *Builder) renderPages(ctx context.Context, area *Area, rec record.Record, anns []record.Annotation) ([]int, error) {
	pages := render.AnnotatedPages(anns)
	if len(pages) == 0 {
		return nil, nil
	}
	dir := area.AssetsDir(rec.ID)
	for _, page := range pages {
		data, err := b.Pages.RenderPage(ctx, rec, page)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", page, err)
		}
		if err := fsutil.WriteFileAtomic(b.FS, filepath.Join(dir, render.PageAssetName(page)), data, 0o644); err != nil {
			return nil, fmt.Errorf("stage page %d: %w", page, err)
		}
	}
	return pages, nil
}
