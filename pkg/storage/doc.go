// Package storage holds the file system helpers shared by the exporter and
// the checkpoint manager, plus the persistent ad stores in its
// subpackages.
//
// WriteFileAtomic streams a file into a temporary sibling and renames it
// into place, so an interrupted run never leaves a truncated export or
// checkpoint behind. DataDir resolves the per-user data directory
// (XDG_DATA_HOME on Linux).
package storage
