// Package state persists what the last successful run published.
//
// The state file lives in the output root and maps record ids to the
// fingerprint and paths that were last published for them:
//
//	{
//	  "version": 1,
//	  "updatedAt": "2026-01-02T03:04:05Z",
//	  "assets": {
//	    "<record id>": {"id": ..., "title": ..., "kind": "EPUB", "hash": ..., "path": "books/Foo.md", "assetDir": null}
//	  }
//	}
//
// A missing file loads as an empty store. Entries that fail schema validation
// are dropped individually and reported, so one corrupt entry cannot block
// all future syncing. Saves go through a temp file and rename.
package state
