// Package metadata stores object detections and answers label and frame range lookups.
//
// Detections are partitioned by metadata id and, within a partition, indexed by
// label and frame. Two catalogs are provided:
//
//   - SQLiteCatalog: durable, backed by a SQLite database file
//   - MemoryCatalog: in-process, backed by roaring frame bitmaps
//
// Both return detections of one (metadata id, label) pair in ascending frame order.
package metadata
