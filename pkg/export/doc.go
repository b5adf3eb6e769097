// Package export writes deduplicated ad records to disk.
//
// CSV is the primary format; its header is fixed and rows are sorted by
// ad_id, so the same records always produce the same bytes. Embedded
// commas, quotes and newlines are quoted per RFC 4180 and ReadCSV parses
// the file back. JSON and XML exports also carry each record's metadata.
//
// Files are written through storage.WriteFileAtomic. Every failure is an
// *errors.ExportError, which aborts the job.
package export
