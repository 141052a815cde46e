// Package placement allocates deterministic output paths for records.
//
// Every record that produces a document gets a short filesystem-safe stem
// derived from its title. Records whose stems collide are ordered by id; the
// first keeps the bare stem and the rest get _2, _3, ... suffixes. The same
// input always yields the same mapping regardless of enumeration order.
package placement

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/highmark/internal/record"
)

const (
	// MaxStemRunes bounds the stem length.
	MaxStemRunes = 80

	// FallbackStem is used when a title sanitizes to nothing.
	FallbackStem = "untitled"

	// DocDir holds primary documents.
	DocDir = "books"

	// AssetRoot holds per-record side-asset directories.
	AssetRoot = "assets"

	docExt = ".md"
)

// Placement is a record's resolved relative output paths. An empty DocPath
// means the record currently has nothing worth publishing; an empty AssetDir
// means it owns no side-asset directory.
type Placement struct {
	DocPath  string
	AssetDir string
}

// IsNull reports whether the record publishes nothing.
func (p Placement) IsNull() bool {
	return p.DocPath == "" && p.AssetDir == ""
}

// Candidate is one record offered to the allocator.
type Candidate struct {
	ID      string
	Title   string
	Kind    record.Kind
	Produce bool
}

const forbidden = `/\:*?"<>|`

// Stem computes the filesystem-safe stem of a title.
func Stem(title string) string {
	s := norm.NFC.String(title)

	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
		case strings.ContainsRune(forbidden, r) || unicode.IsControl(r):
			b.WriteRune('_')
			lastSpace = false
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	out := strings.Trim(b.String(), " .")
	if utf8.RuneCountInString(out) > MaxStemRunes {
		out = string([]rune(out)[:MaxStemRunes])
		out = strings.TrimRight(out, " .")
	}
	if out == "" {
		return FallbackStem
	}
	return out
}

// DocPathFor returns the document path for a stem.
func DocPathFor(stem string) string {
	return path.Join(DocDir, stem+docExt)
}

// AssetDirFor returns the side-asset directory for a stem.
func AssetDirFor(stem string) string {
	return path.Join(AssetRoot, stem)
}

// Allocate maps every candidate id to its placement. Candidates with Produce
// set to false get the null placement and never occupy a stem.
func Allocate(cands []Candidate) map[string]Placement {
	out := make(map[string]Placement, len(cands))

	fold := cases.Fold()
	groups := make(map[string][]Candidate)
	stems := make(map[string]string)
	for _, c := range cands {
		if !c.Produce {
			out[c.ID] = Placement{}
			continue
		}
		stem := Stem(c.Title)
		key := fold.String(stem)
		groups[key] = append(groups[key], c)
		stems[c.ID] = stem
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		members := groups[k]
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	}

	// Bare stems are reserved for every group first so a suffixed name can
	// never shadow a title that naturally ends in _N.
	taken := make(map[string]bool, len(keys))
	for _, k := range keys {
		taken[k] = true
	}

	for _, k := range keys {
		members := groups[k]
		for i, c := range members {
			name := stems[members[0].ID]
			if i > 0 {
				name = nextFree(stems[c.ID], i+1, taken, fold)
			}
			out[c.ID] = placementFor(c.Kind, name)
		}
	}
	return out
}

func nextFree(stem string, n int, taken map[string]bool, fold cases.Caser) string {
	for {
		name := fmt.Sprintf("%s_%d", stem, n)
		key := fold.String(name)
		if !taken[key] {
			taken[key] = true
			return name
		}
		n++
	}
}

func placementFor(kind record.Kind, stem string) Placement {
	p := Placement{DocPath: DocPathFor(stem)}
	if kind.HasAssets() {
		p.AssetDir = AssetDirFor(stem)
	}
	return p
}

// Claims is the set of output paths held by an allocation. Has is exact;
// Aliases lists claimed paths that differ from a path only in case, which
// name the same file on case-insensitive volumes.
type Claims struct {
	exact  map[string]bool
	folded map[string][]string
}

// ClaimsOf collects every non-empty path of alloc.
func ClaimsOf(alloc map[string]Placement) Claims {
	c := Claims{exact: map[string]bool{}, folded: map[string][]string{}}
	fold := cases.Fold()
	add := func(rel string) {
		if rel == "" || c.exact[rel] {
			return
		}
		c.exact[rel] = true
		key := fold.String(rel)
		c.folded[key] = append(c.folded[key], rel)
	}
	for _, p := range alloc {
		add(p.DocPath)
		add(p.AssetDir)
	}
	for _, paths := range c.folded {
		sort.Strings(paths)
	}
	return c
}

// Has reports whether rel itself is claimed.
func (c Claims) Has(rel string) bool {
	return c.exact[rel]
}

// Aliases returns the claimed paths other than rel that equal rel after case
// folding, sorted.
func (c Claims) Aliases(rel string) []string {
	var out []string
	for _, p := range c.folded[cases.Fold().String(rel)] {
		if p != rel {
			out = append(out, p)
		}
	}
	return out
}
