package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDStrings(t *testing.T) {
	t.Parallel()

	assert.Nil(t, uuidStrings(nil), "nil ids stay NULL in the database")

	a, b := uuid.New(), uuid.New()
	out := uuidStrings([]uuid.UUID{a, b})
	assert.Equal(t, []string{a.String(), b.String()}, out)
}

func TestParseUUIDs(t *testing.T) {
	t.Parallel()

	got, err := parseUUIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	a := uuid.New()
	got, err = parseUUIDs([]string{a.String()})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, got)

	_, err = parseUUIDs([]string{"not-a-uuid"})
	assert.Error(t, err)
}

func TestToday(t *testing.T) {
	t.Parallel()
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, today())
}
