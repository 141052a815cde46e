// Package publish moves staged outputs into the live output tree.
//
// Documents are written through a temp file in the target's directory and
// renamed into place. Side-asset directories are swapped with a backup and
// rollback (see Swap). After a record's new placement is live, artifacts of
// its previous placement that are no longer referenced are deleted.
package publish

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/highmark/internal/fsutil"
	"github.com/roach88/highmark/internal/placement"
	"github.com/roach88/highmark/internal/process"
)

// Request is one record's publish.
type Request struct {
	// Document is the rendered primary document. Ignored when Next.DocPath
	// is empty.
	Document string

	// StagedAssets is the staged side-asset directory, or empty when the
	// record rendered no side content.
	StagedAssets string

	Next placement.Placement
	Prev placement.Placement
}

// Publisher publishes into Root.
type Publisher struct {
	Root   string
	FS     fsutil.FS
	Env    process.Env
	Logger *slog.Logger

	// Claims are the output paths of the current allocation. A claimed path,
	// or a case variant that resolves to the same file, is never deleted as an
	// orphan or removal. The zero value claims nothing.
	Claims placement.Claims
}

func (p *Publisher) fs() fsutil.FS {
	return fsutil.Or(p.FS)
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Publisher) abs(rel string) string {
	return filepath.Join(p.Root, filepath.FromSlash(rel))
}

// Publish makes req.Next live and removes orphaned artifacts of req.Prev.
// An *UnrecoverableError is returned when an asset swap could not be rolled
// back. Orphans that cannot be removed are logged; the new content is live
// either way.
func (p *Publisher) Publish(req Request) error {
	if req.Next.AssetDir != "" {
		if err := p.publishAssets(req.StagedAssets, req.Next.AssetDir); err != nil {
			return err
		}
	}

	if req.Next.DocPath != "" {
		if err := fsutil.WriteFileAtomic(p.fs(), p.abs(req.Next.DocPath), []byte(req.Document), 0o644); err != nil {
			return fmt.Errorf("write document %s: %w", req.Next.DocPath, err)
		}
	}

	if err := p.removeOrphans(req.Prev, req.Next); err != nil {
		p.logger().Warn("orphaned artifacts left behind", "error", err)
	}
	return nil
}

func (p *Publisher) publishAssets(staged, rel string) error {
	target := p.abs(rel)
	if staged == "" {
		if err := p.fs().RemoveAll(target); err != nil {
			return fmt.Errorf("remove asset dir %s: %w", rel, err)
		}
		return nil
	}

	swap := NewSwap(p.fs(), staged, target, p.Env.UniqueSuffix())
	if err := swap.Run(); err != nil {
		return err
	}
	if swap.CleanupErr != nil {
		p.logger().Warn("asset backup left behind", "dir", rel, "error", swap.CleanupErr)
	}
	return nil
}

func (p *Publisher) removeOrphans(prev, next placement.Placement) error {
	var errs []error
	if p.orphaned(prev.DocPath, next.DocPath) {
		if err := fsutil.RemoveFile(p.fs(), p.abs(prev.DocPath)); err != nil {
			errs = append(errs, fmt.Errorf("remove old document %s: %w", prev.DocPath, err))
		}
	}
	if p.orphaned(prev.AssetDir, next.AssetDir) {
		if err := p.fs().RemoveAll(p.abs(prev.AssetDir)); err != nil {
			errs = append(errs, fmt.Errorf("remove old asset dir %s: %w", prev.AssetDir, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) orphaned(prev, next string) bool {
	return prev != "" && prev != next && !p.claimed(prev) && !p.sameFile(prev, next)
}

// claimed reports whether deleting rel would delete a claimed artifact.
func (p *Publisher) claimed(rel string) bool {
	if p.Claims.Has(rel) {
		return true
	}
	for _, alias := range p.Claims.Aliases(rel) {
		if p.sameFile(rel, alias) {
			return true
		}
	}
	return false
}

// sameFile guards against deleting the new artifact when old and new paths
// differ only in ways the filesystem ignores (case on macOS volumes).
func (p *Publisher) sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ia, err := p.fs().Stat(p.abs(a))
	if err != nil {
		return false
	}
	ib, err := p.fs().Stat(p.abs(b))
	if err != nil {
		return false
	}
	return os.SameFile(ia, ib)
}

// Remove deletes everything a placement points at, except claimed paths.
func (p *Publisher) Remove(pl placement.Placement) error {
	var errs []error
	if pl.DocPath != "" && !p.claimed(pl.DocPath) {
		if err := fsutil.RemoveFile(p.fs(), p.abs(pl.DocPath)); err != nil {
			errs = append(errs, fmt.Errorf("remove document %s: %w", pl.DocPath, err))
		}
	}
	if pl.AssetDir != "" && !p.claimed(pl.AssetDir) {
		if err := p.fs().RemoveAll(p.abs(pl.AssetDir)); err != nil {
			errs = append(errs, fmt.Errorf("remove asset dir %s: %w", pl.AssetDir, err))
		}
	}
	return errors.Join(errs...)
}
