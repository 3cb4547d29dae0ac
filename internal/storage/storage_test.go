package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recycloai/internal/config"
)

// smallest valid PNG header is enough for content sniffing
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

func TestDetectImage(t *testing.T) {
	ct, err := DetectImage(pngBytes, 1024)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = DetectImage(nil, 1024)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = DetectImage(pngBytes, 8)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = DetectImage([]byte("just some text"), 1024)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestLocal_UploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir, "http://localhost:9000/uploads/", zap.NewNop())
	require.NoError(t, err)

	obj, err := store.Upload(context.Background(), "user-1", "bottle.png", pngBytes)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.PublicID, "user-1/"))
	assert.True(t, strings.HasSuffix(obj.PublicID, ".png"))
	assert.Equal(t, "http://localhost:9000/uploads/"+obj.PublicID, obj.URL)
	assert.Equal(t, "image/png", obj.ContentType)

	path := filepath.Join(dir, filepath.FromSlash(obj.PublicID))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	require.NoError(t, store.Delete(context.Background(), obj.PublicID))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Delete(context.Background(), obj.PublicID))
}

func TestLocal_SanitizesUserFolder(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "http://x", zap.NewNop())
	require.NoError(t, err)

	obj, err := store.Upload(context.Background(), "../../etc", "a.png", pngBytes)
	require.NoError(t, err)
	assert.False(t, strings.Contains(obj.PublicID, ".."))
}

func TestLocal_RejectsNonImages(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "http://x", zap.NewNop())
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), "u", "notes.txt", []byte("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestNewCloudinary_RequiresCredentials(t *testing.T) {
	_, err := NewCloudinary(cloudinaryConfigForTest(), zap.NewNop())
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func cloudinaryConfigForTest() config.CloudinaryConfig {
	return config.CloudinaryConfig{CloudName: "demo"}
}
