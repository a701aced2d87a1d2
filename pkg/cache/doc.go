// Package cache persists the last successfully parsed record set of each source.
//
// # Format
//
// An entry is the 4-byte header "MHC1" followed by one length-delimited record
// message per record, encoded with protowire. Field numbers are fixed in codec.go.
// Tombstone records are written like any other record and dropped on read:
//
//	records, tombstones, err := cache.Unmarshal(data)
//
// Zero-length input yields ErrNoCache and undecodable input yields ErrCorrupt.
// Callers treat both as "no cache".
//
// # Store
//
// Entries live at <cache dir>/sources/<sha256(source key)>.bin. Writes go
// through a temp file and rename while holding a file lock. Decoded entries are
// memoized in an expirable LRU that is invalidated on every write.
package cache
