package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
)

const sampleIndex = `{
  "libraries": [
    {"name": "Servo", "version": "1.1.8", "url": "https://example.org/Servo-1.1.8.zip", "archiveFileName": "Servo-1.1.8.zip", "architectures": ["avr"]},
    {"name": "Servo", "version": "1.2.1", "url": "https://example.org/Servo-1.2.1.zip", "archiveFileName": "Servo-1.2.1.zip", "architectures": ["avr"]},
    {"name": "Servo", "version": "1.10.0", "url": "https://example.org/Servo-1.10.0.zip", "archiveFileName": "Servo-1.10.0.zip", "architectures": ["avr"]},
    {"name": "FastLED", "version": "3.6.0", "url": "https://example.org/FastLED-3.6.0.zip", "archiveFileName": "FastLED-3.6.0.zip",
     "dependencies": [{"name": "Servo"}]}
  ]
}`

func TestParseIndex(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
}

func TestParseIndexRejectsGarbage(t *testing.T) {
	_, err := ParseIndex([]byte("not json"))
	assert.Error(t, err)
}

func TestResolveLatest(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	entry, err := idx.Resolve("Servo", "")
	require.NoError(t, err)
	// 1.10.0 orders after 1.2.1 numerically, not lexically.
	assert.Equal(t, "1.10.0", entry.Version)
}

func TestResolvePinnedVersion(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	entry, err := idx.Resolve("Servo", "1.1.8")
	require.NoError(t, err)
	assert.Equal(t, "Servo-1.1.8.zip", entry.ArchiveFileName)
}

func TestResolveNotFound(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	_, err = idx.Resolve("NoSuchLib", "")
	require.Error(t, err)
	assert.True(t, ferrors.IsCategory(err, ferrors.CategoryLibrary))

	_, err = idx.Resolve("Servo", "9.9.9")
	assert.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.1", "1.1.8", 1},
		{"1.10.0", "1.2.1", 1},
		{"1.2.0", "1.2.0", 0},
		{"1.2", "1.2.0", 0},
		{"0.9.9", "1.0.0", -1},
		{"1.2.0-rc1", "1.2.0", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareVersions(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
