// Package source reads books and annotations from Apple Books style SQLite
// databases.
//
// Two databases are involved:
//   - the library database (table ZBKLIBRARYASSET): one row per book
//   - the annotation database (table ZAEANNOTATION): one row per highlight
//
// Both are opened read-only. Timestamps are Core Data seconds and are always
// selected through CAST(... AS REAL) so the driver never converts them to
// time.Time on the way out.
package source
