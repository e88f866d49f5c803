package simulation

import "github.com/oklog/ulid/v2"

// NewRunID returns a lexically sortable identifier for one pipeline run.
func NewRunID() string {
	return ulid.Make().String()
}

// ValidRunID reports whether s is a well-formed run identifier.
func ValidRunID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
