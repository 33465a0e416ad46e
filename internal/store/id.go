package store

import "github.com/oklog/ulid/v2"

// NewID returns a ULID. ulid.Make draws from a process-wide monotonic
// source, so ids minted in the same millisecond still sort in order.
func NewID() string {
	return ulid.Make().String()
}

// NewPrefixedID tags an id with its kind: "ses" for sessions, "le" for
// ledger entries, "rf" for rating failures, "chat" for chat messages.
func NewPrefixedID(prefix string) string {
	return prefix + "_" + NewID()
}
