package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures an S3-compatible bucket.
type S3Options struct {
	Enabled   bool
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Uploader uploads flushed tables to S3-compatible storage (Tigris, MinIO,
// R2, AWS).
type S3Uploader struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

// NewS3Uploader creates an uploader. A disabled uploader is returned when
// opts.Enabled is false.
func NewS3Uploader(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Uploader, error) {
	logger = logger.With("component", "storage")
	if !opts.Enabled {
		logger.Info("storage upload disabled - no bucket configured")
		return &S3Uploader{logger: logger}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = true
	})

	logger.Info("storage upload initialized", "bucket", opts.Bucket, "endpoint", opts.Endpoint)
	return &S3Uploader{client: client, bucket: opts.Bucket, enabled: true, logger: logger}, nil
}

// Enabled reports whether uploads are configured.
func (u *S3Uploader) Enabled() bool {
	return u != nil && u.enabled
}

// Upload puts the file at path under key.
func (u *S3Uploader) Upload(ctx context.Context, key, path string) error {
	if !u.Enabled() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(path)),
	})
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}

	u.logger.Info("uploaded output table", "key", key, "bytes", info.Size())
	return nil
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
