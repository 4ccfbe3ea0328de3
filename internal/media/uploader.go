// Package media stores report photos in an S3-compatible bucket.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"hydrowave/api/internal/logging"
)

var (
	ErrNotImage      = errors.New("uploaded file is not an image")
	ErrTooLarge      = errors.New("uploaded file is too large")
	ErrNotConfigured = errors.New("image storage is not configured")
)

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	UseSSL        bool
	MaxBytes      int64
}

// objectStore is the part of *minio.Client the uploader needs.
type objectStore interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

type Uploader struct {
	objects  objectStore
	bucket   string
	baseURL  string
	maxBytes int64
}

// NewMinio connects to the object store and makes sure the bucket exists
// and is publicly readable.
func NewMinio(ctx context.Context, cfg Config) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		if err := client.SetBucketPolicy(ctx, cfg.Bucket, publicReadPolicy(cfg.Bucket)); err != nil {
			return nil, fmt.Errorf("set bucket policy: %w", err)
		}
		logging.Info().Str("bucket", cfg.Bucket).Msg("created image bucket")
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + cfg.Endpoint
	}
	return newUploader(client, cfg.Bucket, base, cfg.MaxBytes), nil
}

func newUploader(objects objectStore, bucket, baseURL string, maxBytes int64) *Uploader {
	return &Uploader{
		objects:  objects,
		bucket:   bucket,
		baseURL:  strings.TrimRight(baseURL, "/") + "/" + bucket + "/",
		maxBytes: maxBytes,
	}
}

func publicReadPolicy(bucket string) string {
	return fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, bucket)
}

func (u *Uploader) MaxBytes() int64 {
	if u == nil {
		return 0
	}
	return u.maxBytes
}

// Upload stores body and returns its public URL. The content type is
// sniffed from the first bytes; anything that is not an image is rejected.
func (u *Uploader) Upload(ctx context.Context, body io.Reader, size int64) (string, error) {
	if u == nil {
		return "", ErrNotConfigured
	}
	if size > u.maxBytes {
		return "", ErrTooLarge
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := http.DetectContentType(head)
	ext, ok := extensions[contentType]
	if !ok {
		return "", ErrNotImage
	}

	key := path.Join("reports", uuid.NewString()+ext)
	reader := io.MultiReader(bytes.NewReader(head), body)
	if _, err := u.objects.PutObject(ctx, u.bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return u.baseURL + key, nil
}

// Owns reports whether url names an object Upload could have produced.
func (u *Uploader) Owns(url string) bool {
	_, ok := u.objectKey(url)
	return ok
}

func (u *Uploader) objectKey(url string) (string, bool) {
	if u == nil || !strings.HasPrefix(url, u.baseURL) {
		return "", false
	}
	key := strings.TrimPrefix(url, u.baseURL)
	name, ok := strings.CutPrefix(key, "reports/")
	if !ok || name == "" || strings.ContainsAny(name, "/\\?#") || strings.Contains(name, "..") {
		return "", false
	}
	return key, true
}

// Delete removes an image previously returned by Upload. URLs that do not
// belong to the bucket are ignored.
func (u *Uploader) Delete(ctx context.Context, url string) error {
	key, ok := u.objectKey(url)
	if !ok {
		return nil
	}
	if err := u.objects.RemoveObject(ctx, u.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove image %s: %w", key, err)
	}
	return nil
}
