package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/mohammad-safakhou/autoposter/config"
	"github.com/mohammad-safakhou/autoposter/internal/logging"
)

// ErrNotConfigured is returned when no bucket was configured.
var ErrNotConfigured = errors.New("objectstore: bucket not configured")

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader stores generated media in an S3-compatible bucket and returns
// a publicly reachable URL.
type Uploader struct {
	client putter
	cfg    config.S3Config
	logger logging.Logger
	now    func() time.Time
}

// NewUploader builds an S3 client. Explicit keys are used when given,
// otherwise the default AWS credential chain applies.
func NewUploader(ctx context.Context, cfg config.S3Config, logger logging.Logger) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	logger.WithFields(logging.Fields{
		"bucket":   cfg.Bucket,
		"prefix":   cfg.Prefix,
		"endpoint": cfg.Endpoint,
	}).Info("object store initialized")
	return newUploader(s3.NewFromConfig(awsCfg, s3Opts...), cfg, logger), nil
}

func newUploader(client putter, cfg config.S3Config, logger logging.Logger) *Uploader {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Uploader{client: client, cfg: cfg, logger: logger, now: time.Now}
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
}

func extensionFor(contentType string) string {
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]; ok {
		return ext
	}
	return ".bin"
}

// Key returns the object key for a new upload:
// {prefix}/{YYYYmmdd_HHMMSS}_{8 hex chars}{ext}.
func (u *Uploader) Key(contentType string) string {
	name := fmt.Sprintf("%s_%s%s", u.now().UTC().Format("20060102_150405"), uuid.NewString()[:8], extensionFor(contentType))
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// URL returns the public address of key.
func (u *Uploader) URL(key string) string {
	if base := strings.TrimRight(u.cfg.PublicBaseURL, "/"); base != "" {
		return base + "/" + key
	}
	if endpoint := strings.TrimRight(u.cfg.Endpoint, "/"); endpoint != "" {
		return endpoint + "/" + u.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
}

// Host is the host serving uploaded objects. Images from this host are
// treated as our own when reusing prior-post media.
func (u *Uploader) Host() string {
	if u == nil {
		return ""
	}
	parsed, err := url.Parse(u.URL("probe"))
	if err != nil {
		return ""
	}
	return parsed.Host
}

// Upload stores data and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if u == nil {
		return "", ErrNotConfigured
	}
	if len(data) == 0 {
		return "", fmt.Errorf("objectstore: empty payload")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := u.Key(contentType)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	u.logger.WithFields(logging.Fields{"key": key, "bytes": len(data)}).Debug("uploaded object")
	return u.URL(key), nil
}
