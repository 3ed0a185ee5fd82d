package logging

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	assert.Len(t, id, 26)

	parsed, err := ulid.Parse(id)
	require.NoError(t, err)

	created := ulid.Time(parsed.Time())
	assert.WithinDuration(t, time.Now(), created, time.Minute)
}

func TestNewRunIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := NewRunID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate run ID %s", id)
		seen[id] = struct{}{}
	}
}
