package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags the two renderable record kinds.
type Kind string

const (
	// KindEPUB is a reflowable book whose annotations live in the annotation DB.
	KindEPUB Kind = "EPUB"

	// KindPDF is a binary-source book. Its document gets a side-asset directory
	// of rendered page images.
	KindPDF Kind = "PDF"
)

// Kinds lists every valid kind.
var Kinds = []Kind{KindEPUB, KindPDF}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindEPUB || k == KindPDF
}

// HasAssets reports whether records of this kind own a side-asset directory.
func (k Kind) HasAssets() bool {
	return k == KindPDF
}

// ParseKind converts a stored kind string, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown record kind %q", s)
	}
	return k, nil
}

// Record is one book as seen by the current run.
type Record struct {
	// ID is the stable asset identifier from the library database.
	ID string

	Title  string
	Author string
	Kind   Kind

	// FilePath is the on-disk location of the source file. Only meaningful
	// for KindPDF.
	FilePath string
}

// Annotation is one highlight or note attached to a record.
type Annotation struct {
	ID       string
	Text     string
	Note     string
	Style    int
	Chapter  string
	Location string

	// Page is the 1-based PDF page, 0 when unknown.
	Page int

	Modified ModTime
}

// Qualifies reports whether the annotation carries anything worth publishing.
func (a Annotation) Qualifies() bool {
	return strings.TrimSpace(a.Text) != "" || strings.TrimSpace(a.Note) != ""
}

// Stats summarises a record's annotation set without loading it.
type Stats struct {
	// Count is the number of qualifying annotations.
	Count int

	// Latest is the most recent annotation modification time.
	Latest ModTime
}

// coreDataEpoch is the reference date of Core Data timestamps.
var coreDataEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// ModTime is an optional modification timestamp in seconds since the Core Data
// epoch (2001-01-01 UTC), the unit the annotation database stores.
type ModTime struct {
	Seconds float64
	Valid   bool
}

// NewModTime returns a valid ModTime.
func NewModTime(seconds float64) ModTime {
	return ModTime{Seconds: seconds, Valid: true}
}

// String renders the timestamp the way fingerprints embed it. Absent values
// render as "none".
func (m ModTime) String() string {
	if !m.Valid {
		return "none"
	}
	return strconv.FormatFloat(m.Seconds, 'f', -1, 64)
}

// Time converts the timestamp to wall-clock time. The zero time is returned
// for an absent value.
func (m ModTime) Time() time.Time {
	if !m.Valid {
		return time.Time{}
	}
	whole := int64(m.Seconds)
	frac := m.Seconds - float64(whole)
	return coreDataEpoch.Add(time.Duration(whole)*time.Second + time.Duration(frac*float64(time.Second)))
}

// After reports whether m is later than other. Absent values sort first.
func (m ModTime) After(other ModTime) bool {
	if !m.Valid {
		return false
	}
	if !other.Valid {
		return true
	}
	return m.Seconds > other.Seconds
}

// Fingerprint summarises everything that affects a record's rendered output.
// Two records with equal fingerprints render identical output.
type Fingerprint string

func (f Fingerprint) String() string {
	return string(f)
}
