// Package fingerprint derives the change-detection hash of each record.
//
// A fingerprint depends only on the record kind, the latest annotation
// modification time, and for PDF records a freshly probed file stamp and
// whether page images are being rendered. Titles, authors, and absolute
// paths never enter it.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/highmark/internal/record"
)

// missingStamp marks a binary source that is absent on disk. It can never
// collide with a real "<millis>:<size>" stamp.
const missingStamp = "missing"

// FileStamp captures the mutable identity of a binary source file.
type FileStamp struct {
	Present bool
	ModTime time.Time
	Size    int64
}

// String renders "modified-time:size" or the missing sentinel.
func (s FileStamp) String() string {
	if !s.Present {
		return missingStamp
	}
	return fmt.Sprintf("%d:%d", s.ModTime.UnixMilli(), s.Size)
}

// StatFunc stats a path. os.Stat in production.
type StatFunc func(path string) (fs.FileInfo, error)

// Probe stats path and returns its stamp. A missing file is not an error; it
// yields a stamp with Present == false.
func Probe(stat StatFunc, path string) (FileStamp, error) {
	if stat == nil {
		stat = os.Stat
	}
	if strings.TrimSpace(path) == "" {
		return FileStamp{}, nil
	}
	info, err := stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileStamp{}, nil
		}
		return FileStamp{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return FileStamp{}, nil
	}
	return FileStamp{Present: true, ModTime: info.ModTime(), Size: info.Size()}, nil
}

// pagesTag marks PDF fingerprints built while page images are rendered, so
// enabling or disabling the page renderer rebuilds every present PDF.
const pagesTag = "|pages"

// Build computes the fingerprint of one record from its change-relevant
// inputs. stamp and pages are ignored for kinds without a binary source;
// pages is also ignored when the source file is missing.
func Build(kind record.Kind, latest record.ModTime, stamp FileStamp, pages bool) record.Fingerprint {
	var b strings.Builder
	b.WriteString(string(kind))
	b.WriteString("|mod:")
	b.WriteString(latest.String())
	if kind.HasAssets() {
		b.WriteString("|file:")
		b.WriteString(stamp.String())
		if pages && stamp.Present {
			b.WriteString(pagesTag)
		}
	}
	return record.Fingerprint(b.String())
}

// Result is the per-record output of BuildAll.
type Result struct {
	Fingerprint record.Fingerprint
	Stamp       FileStamp
}

// BuildAll fingerprints every record concurrently. Records share no mutable
// state, so the order of computation does not matter. stats may lack entries;
// those records fingerprint with an absent modification time. pages reports
// whether page images will be rendered.
func BuildAll(ctx context.Context, records []record.Record, stats map[string]record.Stats, stat StatFunc, pages bool) (map[string]Result, error) {
	out := make(map[string]Result, len(records))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var stamp FileStamp
			if rec.Kind.HasAssets() {
				s, err := Probe(stat, rec.FilePath)
				if err != nil {
					return fmt.Errorf("probe %s: %w", rec.ID, err)
				}
				stamp = s
			}
			res := Result{
				Fingerprint: Build(rec.Kind, stats[rec.ID].Latest, stamp, pages),
				Stamp:       stamp,
			}
			mu.Lock()
			out[rec.ID] = res
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
