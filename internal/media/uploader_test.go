package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	puts    map[string][]byte
	types   map[string]string
	removed []string
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{puts: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.puts[object] = data
	f.types[object] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: int64(len(data))}, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, _ string, object string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, object)
	return nil
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func TestUploadStoresImage(t *testing.T) {
	objects := newFakeObjects()
	u := newUploader(objects, "images", "https://cdn.example/", 1<<20)

	url, err := u.Upload(context.Background(), bytes.NewReader(pngBytes), int64(len(pngBytes)))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example/images/reports/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	key := strings.TrimPrefix(url, "https://cdn.example/images/")
	assert.Equal(t, pngBytes, objects.puts[key])
	assert.Equal(t, "image/png", objects.types[key])
}

func TestUploadRejectsNonImage(t *testing.T) {
	u := newUploader(newFakeObjects(), "images", "http://minio:9000", 1<<20)
	_, err := u.Upload(context.Background(), strings.NewReader("just some text"), 14)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestUploadRejectsOversize(t *testing.T) {
	u := newUploader(newFakeObjects(), "images", "http://minio:9000", 10)
	_, err := u.Upload(context.Background(), bytes.NewReader(pngBytes), int64(len(pngBytes)))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUploadWrapsStoreFailure(t *testing.T) {
	objects := newFakeObjects()
	objects.putErr = errors.New("bucket gone")
	u := newUploader(objects, "images", "http://minio:9000", 1<<20)
	_, err := u.Upload(context.Background(), bytes.NewReader(pngBytes), int64(len(pngBytes)))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotImage)
}

func TestDeleteOnlyOwnObjects(t *testing.T) {
	objects := newFakeObjects()
	u := newUploader(objects, "images", "http://minio:9000", 1<<20)

	require.NoError(t, u.Delete(context.Background(), "https://elsewhere.example/a.png"))
	require.NoError(t, u.Delete(context.Background(), "http://minio:9000/images/reports/abc.png"))
	require.NoError(t, u.Delete(context.Background(), "http://minio:9000/images/reports/../secrets.txt"))
	require.NoError(t, u.Delete(context.Background(), "http://minio:9000/images/other/abc.png"))
	assert.Equal(t, []string{"reports/abc.png"}, objects.removed)
}

func TestOwns(t *testing.T) {
	u := newUploader(newFakeObjects(), "images", "https://cdn.example/", 1<<20)

	assert.True(t, u.Owns("https://cdn.example/images/reports/abc.png"))
	assert.False(t, u.Owns("https://cdn.example/images/reports/"))
	assert.False(t, u.Owns("https://cdn.example/images/avatars/abc.png"))
	assert.False(t, u.Owns("https://elsewhere.example/images/reports/abc.png"))

	var missing *Uploader
	assert.False(t, missing.Owns("https://cdn.example/images/reports/abc.png"))
}

func TestNilUploader(t *testing.T) {
	var u *Uploader
	_, err := u.Upload(context.Background(), bytes.NewReader(pngBytes), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, u.Delete(context.Background(), "x"))
	assert.False(t, u.Owns("x"))
}
