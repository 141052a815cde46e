// Package record defines the read-only view of the annotation library that the
// sync engine works from.
//
// A Record is one publishable book. Records and their annotations are produced
// fresh on every run by a source (see internal/source) and are never mutated by
// the engine. Everything that can change a record's rendered output is captured
// in its Fingerprint (see internal/fingerprint).
package record
