package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))
}

func TestDiscoverFindsJSONFilesRecursively(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bandi_2024.json")
	writeFile(t, dir, "sub/contratti_2023.json")
	writeFile(t, dir, "ignored.txt")
	writeFile(t, dir, "README.md")

	files, err := Discover(dir, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)

	names := map[string]string{}
	for _, f := range files {
		names[f.Name] = f.Category
	}
	assert.Equal(t, "bandi", names["bandi_2024.json"])
	assert.Equal(t, "contratti", names["contratti_2023.json"])
}

func TestDiscoverSortsByPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "z_file.json")
	writeFile(t, dir, "a_file.json")

	files, err := Discover(dir, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Less(t, files[0].Path, files[1].Path)
}

func TestDiscoverEmptyCorpusIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	files, err := Discover(dir, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCategoryOfFallsBackToUnknown(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "noextensionseparator.json")

	files, err := Discover(dir, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "unknown", files[0].Category)
}
