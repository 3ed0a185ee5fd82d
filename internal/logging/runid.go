package logging

import "github.com/oklog/ulid/v2"

// NewRunID returns a ULID identifying one evaluation run. ULIDs embed a
// millisecond timestamp, so run log files named after them sort
// chronologically.
func NewRunID() string {
	return ulid.Make().String()
}
