package state

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/highmark/internal/record"
)

//go:embed schema.cue
var schemaSource string

// entryResult is the outcome of validating one state entry: either a typed
// Asset or the reason it was rejected.
type entryResult struct {
	ID    string
	Asset Asset
	Err   error
}

// validateEntries checks every raw entry against #Asset. Results are sorted
// by id. Only a broken embedded schema is returned as an error.
func validateEntries(raw map[string]json.RawMessage) ([]entryResult, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile state schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Asset"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Asset: %w", err)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]entryResult, 0, len(ids))
	for _, id := range ids {
		asset, err := validateEntry(ctx, def, id, raw[id])
		results = append(results, entryResult{ID: id, Asset: asset, Err: err})
	}
	return results, nil
}

func validateEntry(ctx *cue.Context, def cue.Value, id string, raw json.RawMessage) (Asset, error) {
	v := ctx.CompileBytes(raw, cue.Filename(id))
	if err := v.Err(); err != nil {
		return Asset{}, fmt.Errorf("not a valid entry: %w", err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return Asset{}, fmt.Errorf("schema: %w", err)
	}

	var w assetWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Asset{}, fmt.Errorf("decode: %w", err)
	}
	if w.ID != id {
		return Asset{}, fmt.Errorf("entry id %q does not match key", w.ID)
	}
	kind, err := record.ParseKind(w.Kind)
	if err != nil {
		return Asset{}, err
	}
	return Asset{
		ID:       w.ID,
		Title:    w.Title,
		Kind:     kind,
		Hash:     record.Fingerprint(w.Hash),
		Path:     deref(w.Path),
		AssetDir: deref(w.AssetDir),
	}, nil
}
