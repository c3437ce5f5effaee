package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectGetter is the part of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3LoaderConfig configures an S3-backed document loader.
type S3LoaderConfig struct {
	Client       ObjectGetter
	Bucket       string
	Key          string
	CacheTTL     time.Duration // minimum time between checks (default 5m)
	ErrorBackoff time.Duration // wait after a failed fetch (default 1m)
	Logger       *slog.Logger
}

// S3Loader fetches one object with ETag-conditional requests so an
// unchanged document costs a 304 rather than a download.
type S3Loader struct {
	client ObjectGetter
	bucket string
	key    string

	mu           sync.Mutex
	etag         string
	lastCheck    time.Time
	lastError    time.Time
	fetching     bool
	cacheTTL     time.Duration
	errorBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewS3Loader creates a loader.
func NewS3Loader(cfg S3LoaderConfig) *S3Loader {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &S3Loader{
		client:       cfg.Client,
		bucket:       cfg.Bucket,
		key:          cfg.Key,
		cacheTTL:     cfg.CacheTTL,
		errorBackoff: cfg.ErrorBackoff,
		now:          time.Now,
		logger:       cfg.Logger.With("bucket", cfg.Bucket, "key", cfg.Key),
	}
}

// IsEnabled reports whether a client is configured.
func (l *S3Loader) IsEnabled() bool {
	return l.client != nil
}

// Fetch returns the object body when it changed since the last fetch.
// It returns (nil, nil) when the object is unchanged, missing, or not yet
// due for a check.
func (l *S3Loader) Fetch(ctx context.Context) ([]byte, error) {
	if l.client == nil {
		return nil, nil
	}

	l.mu.Lock()
	now := l.now()
	due := l.lastCheck.IsZero() || now.Sub(l.lastCheck) >= l.cacheTTL
	backingOff := !l.lastError.IsZero() && now.Sub(l.lastError) < l.errorBackoff
	if l.fetching || !due || backingOff {
		l.mu.Unlock()
		return nil, nil
	}
	l.fetching = true
	etag := l.etag
	l.mu.Unlock()

	data, newEtag, err := l.get(ctx, etag)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetching = false
	l.lastCheck = l.now()
	if err != nil {
		l.lastError = l.lastCheck
		return nil, err
	}
	l.lastError = time.Time{}
	if data != nil {
		l.etag = newEtag
	}
	return data, nil
}

func (l *S3Loader) get(ctx context.Context, etag string) ([]byte, string, error) {
	in := &s3.GetObjectInput{Bucket: &l.bucket, Key: &l.key}
	if etag != "" {
		quoted := `"` + etag + `"`
		in.IfNoneMatch = &quoted
	}

	resp, err := l.client.GetObject(ctx, in)
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			l.logger.Debug("config object not found, keeping current values")
			return nil, "", nil
		}
		var coded interface{ ErrorCode() string }
		if errors.As(err, &coded) && coded.ErrorCode() == "NotModified" {
			return nil, "", nil
		}
		l.logger.Error("failed to fetch config object", "error", err, "retry_after", l.errorBackoff.String())
		return nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	newEtag := ""
	if resp.ETag != nil {
		newEtag = strings.Trim(*resp.ETag, `"`)
	}
	l.logger.Debug("config object fetched", "etag", newEtag, "size", len(data))
	return data, newEtag, nil
}
