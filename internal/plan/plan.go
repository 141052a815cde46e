// Package plan decides which records a run must rebuild, which it can skip,
// and which previously published entries it must remove.
package plan

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/roach88/highmark/internal/fsutil"
	"github.com/roach88/highmark/internal/placement"
	"github.com/roach88/highmark/internal/record"
	"github.com/roach88/highmark/internal/state"
)

// Reason explains why a record was selected for rebuild.
type Reason string

const (
	ReasonNew                Reason = "new"
	ReasonKindChanged        Reason = "kind-changed"
	ReasonFingerprintChanged Reason = "fingerprint-changed"
	ReasonPlacementChanged   Reason = "placement-changed"
	ReasonDocumentMissing    Reason = "document-missing"
	ReasonLegacyFormat       Reason = "legacy-format"
)

// Candidate is a current record with its fingerprint and allocated placement.
type Candidate struct {
	Record      record.Record
	Fingerprint record.Fingerprint
	Placement   placement.Placement
}

// Item is a planned record. Previous is nil when the record was never
// published. Reason is empty for skipped items.
type Item struct {
	Candidate
	Previous *state.Asset
	Reason   Reason
}

// Plan is the outcome of diffing the current records against the state.
type Plan struct {
	Build  []Item
	Skip   []Item
	Remove []state.Asset
}

// Planner diffs candidates against persisted state. It only reads the live
// output tree.
type Planner struct {
	Root string
	FS   fsutil.FS
}

// Plan classifies every candidate. When full is true the candidates are the
// complete record set and previous entries without a candidate are scheduled
// for removal; partial (filtered) runs never remove anything.
func (p *Planner) Plan(cands []Candidate, previous map[string]state.Asset, full bool) (*Plan, error) {
	out := &Plan{}
	seen := make(map[string]bool, len(cands))

	sorted := append([]Candidate(nil), cands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Record.ID < sorted[j].Record.ID })

	for _, c := range sorted {
		id := c.Record.ID
		if seen[id] {
			return nil, fmt.Errorf("duplicate record id %q", id)
		}
		seen[id] = true

		item := Item{Candidate: c}
		if prev, ok := previous[id]; ok {
			item.Previous = &prev
		}
		item.Reason = p.reason(item)
		if item.Reason == "" {
			out.Skip = append(out.Skip, item)
		} else {
			out.Build = append(out.Build, item)
		}
	}

	if full {
		ids := make([]string, 0, len(previous))
		for id := range previous {
			if !seen[id] {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			out.Remove = append(out.Remove, previous[id])
		}
	}
	return out, nil
}

func (p *Planner) reason(item Item) Reason {
	prev := item.Previous
	switch {
	case prev == nil:
		return ReasonNew
	case prev.Kind != item.Record.Kind:
		return ReasonKindChanged
	case prev.Hash != item.Fingerprint:
		return ReasonFingerprintChanged
	case prev.Placement() != item.Placement:
		return ReasonPlacementChanged
	}
	if prev.Path == "" {
		return ""
	}

	docPath := filepath.Join(p.Root, filepath.FromSlash(prev.Path))
	exists, err := fsutil.Exists(p.FS, docPath)
	if err != nil || !exists {
		return ReasonDocumentMissing
	}
	if hasLegacyMarker(p.FS, docPath) {
		return ReasonLegacyFormat
	}
	return ""
}
