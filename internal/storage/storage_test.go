package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPutter struct {
	putFunc func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

func (m *mockPutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.putFunc(ctx, in)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", ExtensionFor("image/png"))
	assert.Equal(t, ".jpg", ExtensionFor("IMAGE/JPEG"))
	assert.Equal(t, ".webp", ExtensionFor("image/webp; charset=binary"))
	assert.Equal(t, ".mp4", ExtensionFor("video/mp4"))
	assert.Equal(t, ".bin", ExtensionFor("application/octet-stream"))
}

func TestNewS3StoreValidates(t *testing.T) {
	_, err := NewS3Store(S3Config{})
	assert.ErrorContains(t, err, "bucket")

	_, err = NewS3Store(S3Config{Bucket: "b", Region: "us-east-1"})
	assert.ErrorContains(t, err, "missing credentials, public base url")

	s, err := NewS3Store(S3Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://cdn.example"})
	require.NoError(t, err)
	assert.Equal(t, "generated", s.cfg.Prefix)
}

func TestS3StoreSave(t *testing.T) {
	var got *s3.PutObjectInput
	s := &S3Store{
		cfg: S3Config{Bucket: "media", PublicBaseURL: "https://cdn.example/", Prefix: "/images/"},
		client: &mockPutter{putFunc: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			got = in
			return &s3.PutObjectOutput{}, nil
		}},
		now: func() time.Time { return time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC) },
	}

	url, err := s.Save(context.Background(), []byte("png"), "image/png")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "media", *got.Bucket)
	assert.Equal(t, types.ObjectCannedACLPublicRead, got.ACL)
	assert.True(t, strings.HasPrefix(*got.Key, "images/2026/03/07/"))
	assert.True(t, strings.HasSuffix(*got.Key, ".png"))
	assert.Equal(t, "https://cdn.example/"+*got.Key, url)
	assert.EqualValues(t, 3, *got.ContentLength)
	assert.Contains(t, *got.CacheControl, "immutable")

	body, _ := io.ReadAll(got.Body)
	assert.Equal(t, []byte("png"), body)
}

func TestS3StoreSaveErrors(t *testing.T) {
	s := &S3Store{
		cfg: S3Config{Bucket: "media", PublicBaseURL: "https://cdn.example"},
		client: &mockPutter{putFunc: func(context.Context, *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			return nil, errors.New("access denied")
		}},
		now: time.Now,
	}
	_, err := s.Save(context.Background(), nil, "image/png")
	assert.ErrorContains(t, err, "empty object")

	_, err = s.Save(context.Background(), []byte("x"), "")
	assert.ErrorContains(t, err, "access denied")
}

func TestLocalStoreSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "generated_images")
	l, err := NewLocalStore(dir, "/generated_images/")
	require.NoError(t, err)

	url, err := l.Save(context.Background(), []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/generated_images/"))
	assert.True(t, strings.HasSuffix(url, ".jpg"))

	data, err := os.ReadFile(filepath.Join(dir, filepath.Base(url)))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)
}
