package codec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/stepwise/internal/model"
)

func TestWriteReadFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "plan.json")

	require.NoError(t, WriteFile(ctx, path, []byte(`{"a":1}`)))

	data, err := ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestWriteFileOverwrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plan.json")

	require.NoError(t, WriteFile(ctx, path, []byte("first")))
	require.NoError(t, WriteFile(ctx, path, []byte("second")))

	data, err := ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, model.ErrIO)
}

func TestWriteFileIntoDirectoryPath(t *testing.T) {
	dir := t.TempDir()
	err := WriteFile(context.Background(), dir, []byte("x"))
	assert.ErrorIs(t, err, model.ErrIO)
}

func TestFileOpsHonorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "plan.json")
	err := WriteFile(ctx, path, []byte("x"))
	assert.ErrorIs(t, err, model.ErrIO)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = ReadFile(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "canceled write must not create the file")
}
