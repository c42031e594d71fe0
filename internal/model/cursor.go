package model

// Cursor is a scanner's persisted progress marker: one key/value pair
// per scanner, keyed by scanner name (e.g. "last_scanned_block").
type Cursor struct {
	Name   string
	Height int64
}
