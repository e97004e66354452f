package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRecord_IsDue_ComparesInUTC(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// 12:00 in Berlin (CEST, UTC+2) is 10:00 UTC.
	fireLocal := time.Date(2026, 7, 1, 12, 0, 0, 0, berlin)
	job := JobRecord{FireAt: fireLocal.UTC()}

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	assert.False(t, job.IsDue(time.Date(2026, 7, 1, 9, 59, 0, 0, time.UTC)))
	assert.True(t, job.IsDue(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)))
	// Same instant expressed in another zone gives the same answer.
	assert.True(t, job.IsDue(time.Date(2026, 7, 1, 19, 0, 0, 0, tokyo)))
	assert.False(t, job.IsDue(time.Date(2026, 7, 1, 18, 59, 0, 0, tokyo)))
}
