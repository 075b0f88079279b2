// Package session implements the open-dataset resource behind the viewer.
//
// A Dataset is backed by a file in the native .mzMD format, a sqlite
// database holding one row per (m/z, retention time, intensity) point plus a
// small meta table. Load accepts a native file directly. Any other format
// with a registered Importer is converted first: the Dataset asks its
// DestinationFunc where the converted file should go, imports into a fresh
// database there in batches, and then serves from it.
//
// # Status
//
// A Dataset moves NotLoaded -> Loading -> Ready or Failed, and to Closed
// from any state. Human-readable progress ("Opening x", "Converting x",
// "Importing: N points", "Ready", "Failed: reason") is reported through the
// callback registered with OnStatus, from whichever goroutine runs Load.
//
// # Saving
//
// SaveAs copies the database to a new file with VACUUM INTO and then serves
// from the copy. Targets go through NormalizeTarget, which appends the
// native extension and refuses to overwrite existing files.
package session
