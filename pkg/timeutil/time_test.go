package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNow_AlwaysUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Now().Location())
}

func TestFixed(t *testing.T) {
	pinned := time.Date(2024, 1, 7, 23, 30, 0, 0, time.UTC)
	clock := Fixed(pinned)

	assert.Equal(t, pinned, clock())
	assert.Equal(t, pinned, clock())
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("Asia/Colombo")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Colombo", loc.String())

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
}
