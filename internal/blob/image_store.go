// Package blob stores plate images in object storage under a fixed bucket
// and hands back stable public URLs.
package blob

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"platesync-service/internal/config"
)

type ImageStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	log           zerolog.Logger
}

func NewImageStore(cfg config.BlobConfig, log zerolog.Logger) (*ImageStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize blob client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)
	}

	return &ImageStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		log:           log,
	}, nil
}

// Upload writes the image under a collision-free key scoped to the user and
// returns its public URL.
func (s *ImageStore) Upload(ctx context.Context, data []byte, contentType, userID string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty image")
	}

	key := objectKey(userID, contentType, time.Now())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=3600",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	s.log.Debug().Str("key", key).Int("size", len(data)).Msg("uploaded image")
	return s.PublicURL(key), nil
}

// Delete removes an image given its public URL or bare object path. A
// locator that does not reference the bucket is skipped without error.
func (s *ImageStore) Delete(ctx context.Context, urlOrPath string) error {
	key, ok := s.objectPath(urlOrPath)
	if !ok {
		s.log.Warn().Str("url", urlOrPath).Msg("image locator outside bucket, skipping delete")
		return nil
	}

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete image %s: %w", key, err)
	}
	return nil
}

// Owns reports whether the locator points into this store's bucket.
func (s *ImageStore) Owns(urlOrPath string) bool {
	_, ok := s.objectPath(urlOrPath)
	return ok
}

// PublicURL returns the retrievable URL for an object path.
func (s *ImageStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key)
}

func (s *ImageStore) objectPath(urlOrPath string) (string, bool) {
	if urlOrPath == "" {
		return "", false
	}

	// Bare object path.
	if !strings.Contains(urlOrPath, "://") {
		return strings.TrimPrefix(urlOrPath, "/"), true
	}

	marker := "/" + s.bucket + "/"
	idx := strings.Index(urlOrPath, marker)
	if idx < 0 {
		return "", false
	}

	key := urlOrPath[idx+len(marker):]
	if decoded, err := url.QueryUnescape(key); err == nil {
		key = decoded
	}
	return key, key != ""
}

// objectKey builds `{userId}/{millis}-{shortRand}.{ext}`. The millisecond
// timestamp plus random suffix keeps concurrent uploads from the same user
// from colliding without a server-side uniqueness check.
func objectKey(userID, contentType string, now time.Time) string {
	ext := "jpg"
	if contentType == "image/png" {
		ext = "png"
	}
	return fmt.Sprintf("%s/%d-%s.%s", userID, now.UnixMilli(), randomSuffix(6), ext)
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1000000)
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(buf)
}
