package benchtrace

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ReportSyncer uploads a published report tree to S3 or S3-compatible
// storage. Unchanged files, tracked by content hash, are skipped on
// subsequent syncs.
type ReportSyncer struct {
	client  *s3.Client
	config  SyncConfig
	retryer *Retryer

	mu       sync.Mutex
	uploaded map[string][sha256.Size]byte

	// Logger receives sync diagnostics. If nil, nothing is logged.
	Logger *log.Logger
}

// NewReportSyncer creates a syncer for the configured bucket.
func NewReportSyncer(cfg SyncConfig) (*ReportSyncer, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	// Build AWS config options
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &ReportSyncer{
		client:   s3.NewFromConfig(awsCfg, s3Opts...),
		config:   cfg,
		uploaded: make(map[string][sha256.Size]byte),
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           IsRetryable,
		}),
	}, nil
}

// SyncDir uploads every file under dir, preserving the relative layout
// beneath the configured prefix. Returns the number of files uploaded.
func (y *ReportSyncer) SyncDir(ctx context.Context, dir string) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := y.config.Prefix + filepath.ToSlash(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		sum := sha256.Sum256(data)
		y.mu.Lock()
		prev, seen := y.uploaded[key]
		y.mu.Unlock()
		if seen && prev == sum {
			return nil
		}

		if err := y.upload(ctx, key, data); err != nil {
			return err
		}
		y.mu.Lock()
		y.uploaded[key] = sum
		y.mu.Unlock()
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, err
	}
	y.logf("synced %d files from %s to s3://%s/%s", uploaded, dir, y.config.Bucket, y.config.Prefix)
	return uploaded, nil
}

func (y *ReportSyncer) upload(ctx context.Context, key string, data []byte) error {
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	result := y.retryer.Do(ctx, func() error {
		_, err := y.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(y.config.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("S3 put object failed: %w", err)
		}
		return nil
	})
	if result.LastErr != nil {
		return fmt.Errorf("failed to upload %s after %d attempts: %w",
			key, result.Attempts, result.LastErr)
	}
	return nil
}

// Invalidate drops the uploaded-content cache so the next SyncDir
// re-uploads everything.
func (y *ReportSyncer) Invalidate() {
	y.mu.Lock()
	y.uploaded = make(map[string][sha256.Size]byte)
	y.mu.Unlock()
}

func (y *ReportSyncer) logf(format string, args ...any) {
	if y.Logger != nil {
		y.Logger.Printf(format, args...)
	}
}
