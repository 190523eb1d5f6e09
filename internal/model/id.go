package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a plan identifier. IDs minted
// within one millisecond still sort in the order they were made.
func NewID() string {
	return ulid.Make().String()
}
