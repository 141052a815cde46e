package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/highmark/internal/fsutil"
	"github.com/roach88/highmark/internal/placement"
	"github.com/roach88/highmark/internal/record"
)

const (
	// FileName is the state file inside the output root.
	FileName = ".highmark-state.json"

	// Version is the only state file version this build reads and writes.
	Version = 1
)

// Asset is one persisted entry: what was last published for a record.
type Asset struct {
	ID    string
	Title string
	Kind  record.Kind
	Hash  record.Fingerprint

	// Path and AssetDir are empty when nothing was published.
	Path     string
	AssetDir string
}

// Placement returns the paths recorded for this asset.
func (a Asset) Placement() placement.Placement {
	return placement.Placement{DocPath: a.Path, AssetDir: a.AssetDir}
}

// Rejected describes an entry dropped during Load.
type Rejected struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Store is the loaded state file.
type Store struct {
	Version   int
	UpdatedAt time.Time
	Assets    map[string]Asset

	// Rejected lists entries that failed validation, sorted by id.
	Rejected []Rejected
}

// Empty returns a store with no entries.
func Empty() *Store {
	return &Store{Version: Version, Assets: map[string]Asset{}}
}

// Path returns the state file path for an output root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

type fileWire struct {
	Version   int                        `json:"version"`
	UpdatedAt string                     `json:"updatedAt"`
	Assets    map[string]json.RawMessage `json:"assets"`
}

type assetWire struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Kind     string  `json:"kind"`
	Hash     string  `json:"hash"`
	Path     *string `json:"path"`
	AssetDir *string `json:"assetDir"`
}

type saveWire struct {
	Version   int                  `json:"version"`
	UpdatedAt string               `json:"updatedAt"`
	Assets    map[string]assetWire `json:"assets"`
}

// Load reads the state file under root. A missing file yields an empty store;
// any other read or parse error is returned.
func Load(fsys fsutil.FS, root string) (*Store, error) {
	data, err := fsutil.Or(fsys).ReadFile(Path(root))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	return Decode(data)
}

// Decode parses state file bytes.
func Decode(data []byte) (*Store, error) {
	var wire fileWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if wire.Version != Version {
		return nil, fmt.Errorf("unsupported state version %d (want %d)", wire.Version, Version)
	}

	st := Empty()
	if wire.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, wire.UpdatedAt); err == nil {
			st.UpdatedAt = ts
		}
	}

	results, err := validateEntries(wire.Assets)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if r.Err != nil {
			st.Rejected = append(st.Rejected, Rejected{ID: r.ID, Reason: r.Err.Error()})
			continue
		}
		st.Assets[r.ID] = r.Asset
	}
	return st, nil
}

// Save writes assets as the new state file, stamped with now.
func Save(fsys fsutil.FS, root string, assets map[string]Asset, now time.Time) error {
	data, err := Encode(assets, now)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(fsys, Path(root), data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Encode renders assets in the state file format. Keys are sorted.
func Encode(assets map[string]Asset, now time.Time) ([]byte, error) {
	wire := saveWire{
		Version:   Version,
		UpdatedAt: now.UTC().Format(time.RFC3339Nano),
		Assets:    make(map[string]assetWire, len(assets)),
	}
	for id, a := range assets {
		wire.Assets[id] = assetWire{
			ID:       a.ID,
			Title:    a.Title,
			Kind:     string(a.Kind),
			Hash:     string(a.Hash),
			Path:     nullable(a.Path),
			AssetDir: nullable(a.AssetDir),
		}
	}
	data, err := json.MarshalIndent(wire, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return append(data, '\n'), nil
}

// SortedIDs returns the asset ids in lexical order.
func (s *Store) SortedIDs() []string {
	ids := make([]string, 0, len(s.Assets))
	for id := range s.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
