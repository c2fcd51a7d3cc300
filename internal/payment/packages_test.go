package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	points, id, err := ParsePayload("points_50_12345")
	require.NoError(t, err)
	assert.Equal(t, 50, points)
	assert.Equal(t, int64(12345), id)
}

func TestParsePayloadRoundTrip(t *testing.T) {
	points, id, err := ParsePayload(BuildPayload(10, 987654321))
	require.NoError(t, err)
	assert.Equal(t, 10, points)
	assert.Equal(t, int64(987654321), id)
}

func TestParsePayloadRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		"points_50",
		"points_50_12345_extra",
		"stars_50_12345",
		"points_fifty_12345",
		"points_-5_12345",
		"points_0_12345",
		"points_50_bob",
	}
	for _, payload := range bad {
		_, _, err := ParsePayload(payload)
		assert.Error(t, err, "payload %q", payload)
	}
}

func TestPackageByStars(t *testing.T) {
	pkg, ok := PackageByStars(100)
	require.True(t, ok)
	assert.Equal(t, 10, pkg.Points)

	pkg, ok = PackageByStars(400)
	require.True(t, ok)
	assert.Equal(t, 50, pkg.Points)

	_, ok = PackageByStars(123)
	assert.False(t, ok)
}
