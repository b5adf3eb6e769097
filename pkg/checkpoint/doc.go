// Package checkpoint saves and resumes scrape jobs.
//
// A checkpoint belongs to one job, identified by the job key (a hash of
// the accounts, date range and format). It records the cursor and page
// count of every advertiser plus the records deduplicated so far, so a
// resumed run re-seeds its store and continues each account where it
// stopped. Completed accounts are skipped.
//
// Checkpoints are stored in platform-specific data directories unless a
// directory is configured:
//   - Linux: $XDG_DATA_HOME/tiktokads/checkpoints/ or ~/.local/share/tiktokads/checkpoints/
//   - macOS: ~/Library/Application Support/tiktokads/checkpoints/
//   - Windows: %APPDATA%/tiktokads/checkpoints/
//
// Files are written atomically and carry a format version.
package checkpoint
