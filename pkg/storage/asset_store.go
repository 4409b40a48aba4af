// Package storage uploads customer logo files to S3-compatible object
// storage and hands back direct-download links for the quote pipeline.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"signchat/pkg/domain"
)

// Errors a handler can map to 4xx responses.
var (
	ErrUnsupportedFileType = fmt.Errorf("storage: unsupported file type")
	ErrEmptyFilename       = fmt.Errorf("storage: empty filename")
)

// allowedExtensions are the logo formats the design team accepts.
var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".svg":  true,
	".pdf":  true,
}

// linkExpiry is how long generated download links stay valid. Seven days is
// the S3 presign maximum.
const linkExpiry = 7 * 24 * time.Hour

// AssetUploader stores a logo file for a session and returns its asset
// record with a direct-download URL.
type AssetUploader interface {
	UploadLogo(ctx context.Context, sessionID, filename string, r io.Reader, size int64, contentType string) (domain.Asset, error)
	DeleteSessionLogos(ctx context.Context, sessionID string) error
}

// MinioAssetStore implements AssetUploader on MinIO/S3 compatible storage.
type MinioAssetStore struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinioAssetStore connects to the object store and ensures the bucket
// exists.
func NewMinioAssetStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioAssetStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioAssetStore{client: client, bucket: bucket, now: time.Now}, nil
}

// UploadLogo validates the filename, writes the object under a key scoped
// to the session and returns the asset with a download link.
func (m *MinioAssetStore) UploadLogo(ctx context.Context, sessionID, filename string, r io.Reader, size int64, contentType string) (domain.Asset, error) {
	clean, err := SanitizeFilename(filename)
	if err != nil {
		return domain.Asset{}, err
	}
	uploadedAt := m.now().UTC()
	key := LogoKey(sessionID, clean, uploadedAt)

	if _, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return domain.Asset{}, fmt.Errorf("put logo: %w", err)
	}

	link, err := m.downloadLink(ctx, key, clean)
	if err != nil {
		return domain.Asset{}, err
	}
	return domain.Asset{
		Filename:   clean,
		URL:        link,
		UploadedAt: uploadedAt,
	}, nil
}

// DeleteSessionLogos removes every object stored for the session.
func (m *MinioAssetStore) DeleteSessionLogos(ctx context.Context, sessionID string) error {
	prefix := fmt.Sprintf("logos/%s/", sessionID)
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list logos: %w", obj.Err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("delete logo %s: %w", obj.Key, err)
		}
	}
	return nil
}

// downloadLink presigns a GET with an attachment disposition so the link
// downloads the file instead of rendering it in the browser.
func (m *MinioAssetStore) downloadLink(ctx context.Context, key, filename string) (string, error) {
	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, linkExpiry, params)
	if err != nil {
		return "", fmt.Errorf("presign logo: %w", err)
	}
	return u.String(), nil
}

// LogoKey builds the object key for a logo upload: scoped to the session
// and prefixed with the upload timestamp so repeated filenames never
// collide.
func LogoKey(sessionID, filename string, uploadedAt time.Time) string {
	return fmt.Sprintf("logos/%s/%d_%s", sessionID, uploadedAt.Unix(), filename)
}

// SanitizeFilename strips any path components, rejects unsupported
// extensions and replaces characters unsafe in object keys.
func SanitizeFilename(filename string) (string, error) {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == "/" {
		return "", ErrEmptyFilename
	}
	ext := strings.ToLower(path.Ext(base))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String(), nil
}
