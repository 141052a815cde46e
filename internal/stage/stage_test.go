package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/highmark/internal/placement"
	"github.com/roach88/highmark/internal/process"
	"github.com/roach88/highmark/internal/record"
	"github.com/roach88/highmark/internal/render"
	"github.com/roach88/highmark/internal/testutil"
)

func testEnv() process.Env {
	return process.Env{
		PID:    42,
		Clock:  testutil.NewFixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Tokens: process.NewSequenceGenerator("tok"),
	}
}

type fakePages struct {
	failOn int
	calls  []int
}

func (f *fakePages) RenderPage(_ context.Context, _ record.Record, page int) ([]byte, error) {
	f.calls = append(f.calls, page)
	if page == f.failOn {
		return nil, errors.New("rasterizer crashed")
	}
	return []byte("png-" + string(rune('0'+page))), nil
}

type failingDocs struct{}

func (failingDocs) Render(render.Document) (string, error) {
	return "", errors.New("template exploded")
}

var pdfRec = record.Record{ID: "P1", Title: "Manual", Kind: record.KindPDF, FilePath: "/m.pdf"}

var pdfPlacement = placement.Placement{DocPath: "books/Manual.md", AssetDir: "assets/Manual"}

var pdfAnns = []record.Annotation{
	{ID: "a", Text: "x", Page: 3},
	{ID: "b", Text: "y", Page: 1},
	{ID: "c", Text: "z", Page: 3},
}

func TestCreate_NamesAndRemove(t *testing.T) {
	root := t.TempDir()
	area, err := Create(nil, root, testEnv())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, ".highmark-staging-20260301T120000Z-42-tok-1"), area.Dir)
	assert.DirExists(t, area.Dir)

	left, err := Leftovers(nil, root)
	require.NoError(t, err)
	assert.Equal(t, []string{area.Dir}, left)

	require.NoError(t, area.Remove())
	assert.NoDirExists(t, area.Dir)
}

func TestLeftovers(t *testing.T) {
	root := t.TempDir()
	left, err := Leftovers(nil, filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, left)

	boom := errors.New("permission denied")
	fsys := testutil.NewFaultFS(&testutil.FaultRule{Op: "readdir", Match: root, Err: boom})
	_, err = Leftovers(fsys, root)
	assert.ErrorIs(t, err, boom)
}

func TestCreate_UniquePerRun(t *testing.T) {
	root := t.TempDir()
	env := testEnv()
	a, err := Create(nil, root, env)
	require.NoError(t, err)
	b, err := Create(nil, root, env)
	require.NoError(t, err)
	assert.NotEqual(t, a.Dir, b.Dir)
}

func TestRecordDir_EscapesSeparators(t *testing.T) {
	area := &Area{Dir: "/s"}
	dir := area.RecordDir("a/../b")
	assert.Equal(t, "/s", filepath.Dir(dir))
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "r-"))
}

func TestBuild_PDFWithPages(t *testing.T) {
	area, err := Create(nil, t.TempDir(), testEnv())
	require.NoError(t, err)
	pages := &fakePages{}
	b := &Builder{Docs: render.Markdown{}, Pages: pages}

	out, err := b.Build(context.Background(), area, pdfRec, pdfPlacement, pdfAnns)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, pages.calls)
	assert.Equal(t, 3, out.Files)
	assert.Equal(t, area.AssetsDir("P1"), out.AssetsDir)
	assert.Contains(t, out.Document, "](<../assets/Manual/page-0003.png>)")

	data, err := os.ReadFile(filepath.Join(out.AssetsDir, "page-0001.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-1", string(data))
	assert.Equal(t, 3, b.Count(pdfRec, pdfPlacement, pdfAnns))
}

func TestBuild_NoPageRenderer(t *testing.T) {
	area, err := Create(nil, t.TempDir(), testEnv())
	require.NoError(t, err)
	b := &Builder{Docs: render.Markdown{}}

	out, err := b.Build(context.Background(), area, pdfRec, pdfPlacement, pdfAnns)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Files)
	assert.Empty(t, out.AssetsDir)
	assert.Equal(t, 1, b.Count(pdfRec, pdfPlacement, pdfAnns))
}

func TestBuild_NullPlacement(t *testing.T) {
	area, err := Create(nil, t.TempDir(), testEnv())
	require.NoError(t, err)
	b := &Builder{Docs: failingDocs{}}

	out, err := b.Build(context.Background(), area, pdfRec, placement.Placement{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Files)
	assert.Equal(t, 0, b.Count(pdfRec, placement.Placement{}, nil))
}

func TestBuild_PageFailureDiscards(t *testing.T) {
	area, err := Create(nil, t.TempDir(), testEnv())
	require.NoError(t, err)
	b := &Builder{Docs: render.Markdown{}, Pages: &fakePages{failOn: 3}}

	_, err = b.Build(context.Background(), area, pdfRec, pdfPlacement, pdfAnns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render page 3")
	assert.NoDirExists(t, area.RecordDir("P1"))
}

func TestBuild_DocumentFailure(t *testing.T) {
	area, err := Create(nil, t.TempDir(), testEnv())
	require.NoError(t, err)
	b := &Builder{Docs: failingDocs{}, Pages: &fakePages{}}

	_, err = b.Build(context.Background(), area, pdfRec, pdfPlacement, pdfAnns)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template exploded")
	assert.NoDirExists(t, area.RecordDir("P1"))
}
