package model

// Item is one of the dense-integer-ID collectibles in the drop.
// A claimed item always has a non-null SessionRef; an unclaimed item
// with a non-null SessionRef is reserved by exactly that session.
type Item struct {
	ID         int64
	ContentRef string
	Claimed    bool
	SessionRef *string
}
