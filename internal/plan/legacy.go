package plan

import (
	"bytes"

	"github.com/roach88/highmark/internal/fsutil"
)

// legacyMarker is the footer line the first release stamped into every
// document. Those documents were laid out one annotation per table row, so a
// document still carrying it is rebuilt even when its fingerprint matches.
//
// TODO: remove once documents from the first release have all been rebuilt.
const legacyMarker = "<!-- 由 iBooks 笔记导出 -->"

// hasLegacyMarker reports whether the published document at path still uses
// the legacy layout. Unreadable documents are reported as not legacy; the
// missing-document check covers files that vanished.
func hasLegacyMarker(fsys fsutil.FS, path string) bool {
	data, err := fsutil.Or(fsys).ReadFile(path)
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(legacyMarker))
}
