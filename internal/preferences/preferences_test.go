package preferences

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFileStartsZeroValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, Prefs{}, s.Get())
}

func TestSaveAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path, nil)
	require.NoError(t, err)

	p := Prefs{EyepieceFovDeg: 1.2, MountType: "eq", CatalogFilter: []string{"messier"}}
	require.NoError(t, s.Save(p))

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, p, reopened.Get())
}

func TestUpdateBoresightPixelPreservesOtherFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(Prefs{MountType: "altaz"}))

	require.NoError(t, s.UpdateBoresightPixel(12.5, 34.5))

	got := s.Get()
	assert.Equal(t, "altaz", got.MountType)
	require.NotNil(t, got.BoresightPixelX)
	assert.InDelta(t, 12.5, *got.BoresightPixelX, 1e-9)
}

func TestNoTmpFileLeftBehindAfterSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(Prefs{MountType: "eq"}))

	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}
