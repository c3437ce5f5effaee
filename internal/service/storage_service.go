package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/config"
)

// FilesRoutePrefix is where signed local download links are served.
const FilesRoutePrefix = "/api/v1/files/"

// StorageService resolves result and sample locations into download URLs.
// Objects in the bucket get presigned S3 URLs; everything served by this
// API gets an HMAC-signed link with an expiry.
type StorageService struct {
	client     *s3.Client
	bucket     string
	enabled    bool
	filesBase  string
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	ttl := cfg.DownloadURLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &StorageService{
		filesBase:  strings.TrimSuffix(cfg.BaseURL, "/") + FilesRoutePrefix,
		signingKey: cfg.DownloadSigningKey,
		ttl:        ttl,
		now:        time.Now,
		logger:     logger.With("component", "storage"),
	}

	if !cfg.StorageEnabled {
		logger.Info("storage service disabled - no bucket configured, using signed local links")
		return s, nil
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing for S3-compatible services (Tigris, MinIO, R2).
	s.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true
	})
	s.bucket = cfg.StorageBucket
	s.enabled = true

	logger.Info("storage service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)
	return s, nil
}

// IsEnabled returns whether object storage is configured.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// Client returns the underlying S3 client (nil when storage is disabled).
func (s *StorageService) Client() *s3.Client {
	return s.client
}

// Bucket returns the configured bucket name.
func (s *StorageService) Bucket() string {
	return s.bucket
}

// Ping checks that the bucket is reachable. It is a no-op when storage is disabled.
func (s *StorageService) Ping(ctx context.Context) error {
	if !s.enabled {
		return nil
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to reach bucket: %w", err)
	}
	return nil
}

// DownloadURL turns a stored location into a time-limited URL.
//
// Accepted locations:
//   - s3://bucket/key and bare keys when storage is enabled: presigned GET
//   - links under this API's files route and bare keys otherwise: signed local link
//   - any other http(s) URL: returned unchanged
func (s *StorageService) DownloadURL(ctx context.Context, location string) (string, time.Time, error) {
	expires := s.now().Add(s.ttl).UTC().Truncate(time.Second)
	switch {
	case location == "":
		return "", time.Time{}, ErrNotFound
	case strings.HasPrefix(location, "s3://"):
		if !s.enabled {
			return "", time.Time{}, fmt.Errorf("storage is not enabled")
		}
		u, err := s.presign(ctx, objectKey(location))
		return u, expires, err
	case strings.HasPrefix(location, s.filesBase):
		return s.SignedURL(strings.TrimPrefix(location, s.filesBase), expires), expires, nil
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return location, expires, nil
	case s.enabled:
		u, err := s.presign(ctx, location)
		return u, expires, err
	}
	return s.SignedURL(location, expires), expires, nil
}

func (s *StorageService) presign(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}

// objectKey strips s3://bucket/ from a location.
func objectKey(location string) string {
	rest := strings.TrimPrefix(location, "s3://")
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i+1:]
	}
	return rest
}

// SignedURL returns a link to key under the files route that is valid until expires.
// Signature format: HMAC-SHA256(key|expiresUnix), hex encoded.
func (s *StorageService) SignedURL(key string, expires time.Time) string {
	key = strings.TrimPrefix(key, "/")
	ts := strconv.FormatInt(expires.Unix(), 10)
	q := url.Values{}
	q.Set("expires", ts)
	q.Set("sig", s.sign(key, ts))
	return s.filesBase + key + "?" + q.Encode()
}

// VerifySignedKey checks a signed link's expiry and signature.
func (s *StorageService) VerifySignedKey(key, expires, signature string) bool {
	ts, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	if s.now().After(time.Unix(ts, 0)) {
		return false
	}
	expected := s.sign(strings.TrimPrefix(key, "/"), expires)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func (s *StorageService) sign(key, expires string) string {
	h := hmac.New(sha256.New, s.signingKey)
	h.Write([]byte(key + "|" + expires))
	return hex.EncodeToString(h.Sum(nil))
}
