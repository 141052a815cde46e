package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const librarySchema = `
CREATE TABLE ZBKLIBRARYASSET (
	Z_PK INTEGER PRIMARY KEY,
	ZASSETID VARCHAR,
	ZTITLE VARCHAR,
	ZAUTHOR VARCHAR,
	ZPATH VARCHAR,
	ZCONTENTTYPE INTEGER
);`

const annotationSchema = `
CREATE TABLE ZAEANNOTATION (
	Z_PK INTEGER PRIMARY KEY,
	ZANNOTATIONASSETID VARCHAR,
	ZANNOTATIONUUID VARCHAR,
	ZANNOTATIONSELECTEDTEXT VARCHAR,
	ZANNOTATIONNOTE VARCHAR,
	ZANNOTATIONSTYLE INTEGER,
	ZANNOTATIONDELETED INTEGER DEFAULT 0,
	ZANNOTATIONMODIFICATIONDATE TIMESTAMP,
	ZANNOTATIONLOCATION VARCHAR,
	ZFUTUREPROOFING5 VARCHAR,
	ZPLLOCATIONRANGESTART INTEGER
);`

// Book is a library row in an Apple Books fixture.
type Book struct {
	ID     string
	Title  string
	Author string
	Path   string
	PDF    bool
}

// Highlight is an annotation row in an Apple Books fixture.
type Highlight struct {
	AssetID  string
	UUID     string
	Text     string
	Note     string
	Chapter  string
	Location string
	Deleted  bool
	Modified float64

	// Page is 1-based; 0 leaves the range start NULL.
	Page int
}

// AppleBooks is a pair of fixture databases under a temp directory.
type AppleBooks struct {
	LibraryPath    string
	AnnotationPath string

	library     *sql.DB
	annotations *sql.DB
	t           testing.TB
}

// NewAppleBooks creates empty library and annotation databases.
func NewAppleBooks(t testing.TB) *AppleBooks {
	t.Helper()
	dir := t.TempDir()
	f := &AppleBooks{
		LibraryPath:    filepath.Join(dir, "BKLibrary.sqlite"),
		AnnotationPath: filepath.Join(dir, "AEAnnotation.sqlite"),
		t:              t,
	}
	f.library = openFixture(t, f.LibraryPath, librarySchema)
	f.annotations = openFixture(t, f.AnnotationPath, annotationSchema)
	return f
}

func openFixture(t testing.TB, path, schema string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return db
}

// AddBook inserts library rows.
func (f *AppleBooks) AddBook(books ...Book) *AppleBooks {
	f.t.Helper()
	for _, b := range books {
		contentType := 1
		if b.PDF {
			contentType = 3
		}
		_, err := f.library.Exec(
			`INSERT INTO ZBKLIBRARYASSET (ZASSETID, ZTITLE, ZAUTHOR, ZPATH, ZCONTENTTYPE) VALUES (?, ?, ?, ?, ?)`,
			b.ID, b.Title, nullable(b.Author), nullable(b.Path), contentType)
		require.NoError(f.t, err)
	}
	return f
}

// AddHighlight inserts annotation rows.
func (f *AppleBooks) AddHighlight(hs ...Highlight) *AppleBooks {
	f.t.Helper()
	for _, h := range hs {
		var page any
		if h.Page > 0 {
			page = h.Page - 1
		}
		deleted := 0
		if h.Deleted {
			deleted = 1
		}
		_, err := f.annotations.Exec(`
			INSERT INTO ZAEANNOTATION (
				ZANNOTATIONASSETID, ZANNOTATIONUUID, ZANNOTATIONSELECTEDTEXT, ZANNOTATIONNOTE,
				ZANNOTATIONSTYLE, ZANNOTATIONDELETED, ZANNOTATIONMODIFICATIONDATE,
				ZANNOTATIONLOCATION, ZFUTUREPROOFING5, ZPLLOCATIONRANGESTART
			) VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`,
			h.AssetID, nullable(h.UUID), nullable(h.Text), nullable(h.Note),
			deleted, h.Modified, nullable(h.Location), nullable(h.Chapter), page)
		require.NoError(f.t, err)
	}
	return f
}

// Exec runs raw SQL against the annotation database.
func (f *AppleBooks) Exec(query string, args ...any) {
	f.t.Helper()
	_, err := f.annotations.Exec(query, args...)
	require.NoError(f.t, err)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
