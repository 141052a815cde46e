// Package engine runs one incremental sync of annotation records into the
// output tree.
//
// A run has three phases:
//
// Real runs take the output-root lock first and hold it through the commit.
//
// Planning (read-only):
//  1. Enumerate records and annotation stats from the Source.
//  2. Fingerprint every record concurrently.
//  3. Allocate placements over the full record set, then apply the filter.
//  4. Load the state file and plan Build, Skip and Remove.
//
// Build and publish:
//  5. Create a run-exclusive staging directory.
//  6. For each build item in id order: fetch annotations, render into
//     staging, publish. A failed record keeps its previous state entry.
//  7. Remove entries that disappeared from the source (unfiltered runs only).
//
// Commit:
//  8. Write the state file once, via temp file and rename.
//
// Dry runs stop after planning: no lock, no staging, no writes. They report
// the same counts, with page images counted from annotations.
//
// Fatal errors are *Error values with a Code. Anything else that goes wrong
// for a single record lands in Report.Failures.
package engine
