package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		tempDir := filepath.Join(t.TempDir(), "nested", "audiocut")

		storage, err := NewLocalStorage(tempDir)
		require.NoError(t, err)
		assert.Equal(t, tempDir, storage.TempDir())

		info, err := os.Stat(tempDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.TempDir(), "audiocut"), storage.TempDir())
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("saves data to temp file", func(t *testing.T) {
		path, err := storage.SaveTemp(context.Background(), "upload", bytes.NewReader([]byte("riff bytes")))
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(filepath.Base(path), "upload_"))
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "riff bytes", string(content))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveTemp(ctx, "upload", bytes.NewReader([]byte("data")))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_SaveFile(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("keeps exact name under job directory", func(t *testing.T) {
		path, err := storage.SaveFile(ctx, filepath.Join("job-1", "song_part_1.wav"), bytes.NewReader([]byte("one")))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(storage.TempDir(), "job-1", "song_part_1.wav"), path)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "one", string(content))
	})

	t.Run("replaces existing file", func(t *testing.T) {
		rel := filepath.Join("job-2", "a_part_1.wav")
		_, err := storage.SaveFile(ctx, rel, bytes.NewReader([]byte("first version")))
		require.NoError(t, err)
		path, err := storage.SaveFile(ctx, rel, bytes.NewReader([]byte("second")))
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(content))
	})

	t.Run("rejects paths outside root", func(t *testing.T) {
		for _, rel := range []string{"../x.wav", "/etc/x.wav", "", "a/../../x.wav"} {
			_, err := storage.SaveFile(ctx, rel, bytes.NewReader(nil))
			assert.ErrorIs(t, err, ErrInvalidPath, rel)
		}
	})
}

func TestLocalStorage_LoadTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("loads saved file", func(t *testing.T) {
		path, err := storage.SaveTemp(ctx, "load_test", bytes.NewReader([]byte("load data")))
		require.NoError(t, err)

		reader, err := storage.LoadTemp(ctx, path)
		require.NoError(t, err)
		defer func() { _ = reader.Close() }()

		content, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "load data", string(content))
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		_, err := storage.LoadTemp(ctx, "/non/existent/file")
		assert.Error(t, err)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.LoadTemp(ctx, "/some/path")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files then their directory", func(t *testing.T) {
		var paths []string
		for _, name := range []string{"s_part_1.wav", "s_part_2.wav"} {
			path, err := storage.SaveFile(ctx, filepath.Join("job-x", name), bytes.NewReader([]byte("data")))
			require.NoError(t, err)
			paths = append(paths, path)
		}
		dir := filepath.Join(storage.TempDir(), "job-x")
		paths = append(paths, dir)

		require.NoError(t, storage.CleanupTemp(ctx, paths))
		for _, p := range paths {
			_, err := os.Stat(p)
			assert.True(t, os.IsNotExist(err), "%s still exists", p)
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		assert.NoError(t, storage.CleanupTemp(ctx, []string{"/non/existent/file"}))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.CleanupTemp(ctx, []string{"/some/path"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_UploadToS3(t *testing.T) {
	storage := setupTestStorage(t)

	_, err := storage.UploadToS3(context.Background(), "key", "audio/wav", bytes.NewReader([]byte("data")))
	assert.ErrorIs(t, err, ErrS3NotConfigured)
}

func TestPartSaver_Local(t *testing.T) {
	storage := setupTestStorage(t)
	saver := NewPartSaver(storage, "job-7", "audio/wav", false)

	loc, err := saver.Save(context.Background(), "song_part_1.wav", []byte("wav"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storage.TempDir(), "job-7", "song_part_1.wav"), loc)

	lp, ok := saver.LocalPath("song_part_1.wav")
	assert.True(t, ok)
	assert.Equal(t, loc, lp)

	_, ok = saver.LocalPath("song_part_2.wav")
	assert.False(t, ok)
}

func TestPartSaver_PushWithoutS3(t *testing.T) {
	storage := setupTestStorage(t)
	saver := NewPartSaver(storage, "job-8", "audio/wav", true)

	_, err := saver.Save(context.Background(), "song_part_1.wav", []byte("wav"))
	assert.ErrorIs(t, err, ErrS3NotConfigured)

	// The local copy is still written.
	_, ok := saver.LocalPath("song_part_1.wav")
	assert.True(t, ok)
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(filepath.Join(t.TempDir(), "audiocut"))
	require.NoError(t, err)
	return storage
}
