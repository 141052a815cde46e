package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/highmark/internal/record"
)

func writeState(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(Path(root), []byte(content), 0o644))
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	st, err := Load(nil, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Version, st.Version)
	assert.Empty(t, st.Assets)
	assert.Empty(t, st.Rejected)
}

func TestLoad_ParseErrorSurfaces(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, "{not json")
	_, err := Load(nil, root)
	assert.Error(t, err)
}

func TestLoad_UnsupportedVersion(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, `{"version": 2, "assets": {}}`)
	_, err := Load(nil, root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported state version 2")
}

func TestLoad_ReadErrorSurfaces(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(Path(root), 0o755))
	_, err := Load(nil, root)
	assert.Error(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	assets := map[string]Asset{
		"X": {ID: "X", Title: "Foo", Kind: record.KindEPUB, Hash: "EPUB|mod:10", Path: "books/Foo.md"},
		"P": {ID: "P", Title: "Manual", Kind: record.KindPDF, Hash: "PDF|mod:none|file:missing"},
		"Q": {ID: "Q", Title: "Guide", Kind: record.KindPDF, Hash: "PDF|mod:1|file:5:6", Path: "books/Guide.md", AssetDir: "assets/Guide"},
	}
	require.NoError(t, Save(nil, root, assets, now))

	st, err := Load(nil, root)
	require.NoError(t, err)
	assert.Equal(t, assets, st.Assets)
	assert.True(t, now.Equal(st.UpdatedAt))
	assert.Empty(t, st.Rejected)
	assert.Equal(t, []string{"P", "Q", "X"}, st.SortedIDs())
}

func TestEncode_NullPaths(t *testing.T) {
	data, err := Encode(map[string]Asset{
		"P": {ID: "P", Title: "T", Kind: record.KindPDF, Hash: "h"},
	}, time.Unix(0, 0))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(1), decoded["version"])
	assert.Equal(t, "1970-01-01T00:00:00Z", decoded["updatedAt"])
	entry := decoded["assets"].(map[string]any)["P"].(map[string]any)
	assert.Nil(t, entry["path"])
	assert.Nil(t, entry["assetDir"])
	assert.Contains(t, entry, "path")
}

func TestLoad_DropsInvalidEntries(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, `{
  "version": 1,
  "updatedAt": "2026-01-01T00:00:00Z",
  "assets": {
    "good": {"id": "good", "title": "Foo", "kind": "EPUB", "hash": "EPUB|mod:10", "path": "books/Foo.md"},
    "badkind": {"id": "badkind", "title": "Bar", "kind": "MOBI", "hash": "h", "path": null},
    "badtype": {"id": "badtype", "title": 12, "kind": "EPUB", "hash": "h", "path": null},
    "nohash": {"id": "nohash", "title": "Baz", "kind": "EPUB", "path": null},
    "mismatch": {"id": "other", "title": "Qux", "kind": "EPUB", "hash": "h", "path": null},
    "scalar": "oops",
    "extra": {"id": "extra", "title": "Ok", "kind": "PDF", "hash": "h", "path": null, "assetDir": null, "future": true}
  }
}`)

	st, err := Load(nil, root)
	require.NoError(t, err)

	assert.Len(t, st.Assets, 2)
	assert.Contains(t, st.Assets, "good")
	assert.Contains(t, st.Assets, "extra")
	assert.Equal(t, record.KindEPUB, st.Assets["good"].Kind)
	assert.Equal(t, "books/Foo.md", st.Assets["good"].Path)

	var rejected []string
	for _, r := range st.Rejected {
		rejected = append(rejected, r.ID)
		assert.NotEmpty(t, r.Reason)
	}
	assert.Equal(t, []string{"badkind", "badtype", "mismatch", "nohash", "scalar"}, rejected)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, Save(nil, root, map[string]Asset{}, time.Now()))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
	assert.FileExists(t, filepath.Join(root, FileName))
}
