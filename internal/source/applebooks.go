package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/highmark/internal/record"
)

// contentTypePDF is ZBKLIBRARYASSET.ZCONTENTTYPE for PDF documents.
const contentTypePDF = 3

const qualifyingClause = `COALESCE(ZANNOTATIONDELETED, 0) = 0
	AND (TRIM(COALESCE(ZANNOTATIONSELECTEDTEXT, '')) != '' OR TRIM(COALESCE(ZANNOTATIONNOTE, '')) != '')`

// AppleBooks is a source backed by the library and annotation databases.
type AppleBooks struct {
	library     *sql.DB
	annotations *sql.DB
}

// Open opens both databases read-only. Missing files are an error; the
// source never creates databases.
func Open(libraryPath, annotationPath string) (*AppleBooks, error) {
	lib, err := openReadOnly(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("open library database: %w", err)
	}
	ann, err := openReadOnly(annotationPath)
	if err != nil {
		lib.Close()
		return nil, fmt.Errorf("open annotation database: %w", err)
	}
	return &AppleBooks{library: lib, annotations: ann}, nil
}

func openReadOnly(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, err
	}

	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection so the pragmas below apply to every query.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	for _, pragma := range readPragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}
	return db, nil
}

// readPragmas are applied to every source connection. Apple Books may be
// writing while a sync reads.
var readPragmas = []string{
	"PRAGMA busy_timeout = 5000",
	"PRAGMA query_only = ON",
}

// Close closes both databases.
func (s *AppleBooks) Close() error {
	return errors.Join(s.library.Close(), s.annotations.Close())
}

// Records returns every book in the library, ordered by asset id.
func (s *AppleBooks) Records(ctx context.Context) ([]record.Record, error) {
	rows, err := s.library.QueryContext(ctx, `
		SELECT ZASSETID, COALESCE(ZTITLE, ''), COALESCE(ZAUTHOR, ''), COALESCE(ZPATH, ''), COALESCE(ZCONTENTTYPE, 0)
		FROM ZBKLIBRARYASSET
		WHERE ZASSETID IS NOT NULL AND ZASSETID != ''
		ORDER BY ZASSETID ASC`)
	if err != nil {
		return nil, fmt.Errorf("query library: %w", err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var (
			rec         record.Record
			contentType int
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Author, &rec.FilePath, &contentType); err != nil {
			return nil, fmt.Errorf("scan library row: %w", err)
		}
		rec.Kind = kindOf(contentType, rec.FilePath)
		if rec.Kind != record.KindPDF {
			rec.FilePath = ""
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate library: %w", err)
	}
	return out, nil
}

func kindOf(contentType int, path string) record.Kind {
	if contentType == contentTypePDF || strings.EqualFold(filepath.Ext(path), ".pdf") {
		return record.KindPDF
	}
	return record.KindEPUB
}

// Stats returns qualifying annotation counts and the latest modification
// time per asset. The latest time includes deleted annotations so that a
// deletion alone changes the fingerprint.
func (s *AppleBooks) Stats(ctx context.Context) (map[string]record.Stats, error) {
	rows, err := s.annotations.QueryContext(ctx, `
		SELECT ZANNOTATIONASSETID,
			SUM(CASE WHEN `+qualifyingClause+` THEN 1 ELSE 0 END),
			MAX(CAST(ZANNOTATIONMODIFICATIONDATE AS REAL))
		FROM ZAEANNOTATION
		WHERE ZANNOTATIONASSETID IS NOT NULL
		GROUP BY ZANNOTATIONASSETID`)
	if err != nil {
		return nil, fmt.Errorf("query annotation stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]record.Stats)
	for rows.Next() {
		var (
			id     string
			count  int
			latest sql.NullFloat64
		)
		if err := rows.Scan(&id, &count, &latest); err != nil {
			return nil, fmt.Errorf("scan annotation stats: %w", err)
		}
		st := record.Stats{Count: count}
		if latest.Valid {
			st.Latest = record.NewModTime(latest.Float64)
		}
		out[id] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotation stats: %w", err)
	}
	return out, nil
}

// Annotations returns the qualifying annotations of one asset in reading
// order.
func (s *AppleBooks) Annotations(ctx context.Context, assetID string) ([]record.Annotation, error) {
	rows, err := s.annotations.QueryContext(ctx, `
		SELECT COALESCE(ZANNOTATIONUUID, CAST(Z_PK AS TEXT)),
			COALESCE(ZANNOTATIONSELECTEDTEXT, ''),
			COALESCE(ZANNOTATIONNOTE, ''),
			COALESCE(ZANNOTATIONSTYLE, 0),
			COALESCE(ZFUTUREPROOFING5, ''),
			COALESCE(ZANNOTATIONLOCATION, ''),
			ZPLLOCATIONRANGESTART,
			CAST(ZANNOTATIONMODIFICATIONDATE AS REAL)
		FROM ZAEANNOTATION
		WHERE ZANNOTATIONASSETID = ? AND `+qualifyingClause+`
		ORDER BY COALESCE(ZPLLOCATIONRANGESTART, 0) ASC, ZANNOTATIONLOCATION ASC, Z_PK ASC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("query annotations for %s: %w", assetID, err)
	}
	defer rows.Close()

	var out []record.Annotation
	for rows.Next() {
		var (
			a        record.Annotation
			rangeIdx sql.NullInt64
			modified sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.Text, &a.Note, &a.Style, &a.Chapter, &a.Location, &rangeIdx, &modified); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		if modified.Valid {
			a.Modified = record.NewModTime(modified.Float64)
		}
		if rangeIdx.Valid {
			a.Page = int(rangeIdx.Int64) + 1
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return out, nil
}
