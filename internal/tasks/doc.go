// Package tasks runs long operations over the store with real-time progress reporting.
//
// # Bulk Export
//
// [Exporter.BulkExport] writes every player's record to an output directory:
//   - Lists player UUIDs from a [RecordSource]
//   - Loads and formats each record on a bounded worker pool
//   - Writes export_manifest.json summarizing successes and failures
//
// # Progress Reporting
//
// Operations accept an optional channel of [ProgressUpdate]. Sends use select with default so a
// slow or absent reader never blocks the export.
package tasks
