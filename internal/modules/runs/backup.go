package runs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Options configures the artifact backup target. AccessKey and
// SecretKey are optional; when empty the default credential chain
// (env vars, shared config, instance role) is used.
type S3Options struct {
	Bucket    string
	Region    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// S3Backup mirrors exported run artifacts into an S3 bucket. Backup is
// strictly best-effort: a failed upload is logged and never propagates
// into an evaluation result.
type S3Backup struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Backup builds the uploader. Returns nil (backup disabled) when
// the bucket is empty.
func NewS3Backup(ctx context.Context, opts S3Options, log zerolog.Logger) (*S3Backup, error) {
	if opts.Bucket == "" {
		return nil, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Backup{
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		log:      log.With().Str("component", "s3_backup").Logger(),
	}, nil
}

// Upload pushes the given local files under <prefix>/<runID>/. Errors
// are logged per file; the first one is returned for observability but
// callers treat it as advisory.
func (b *S3Backup) Upload(ctx context.Context, runID string, paths []string) error {
	if b == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	var firstErr error
	for _, path := range paths {
		if err := b.uploadOne(ctx, runID, path); err != nil {
			b.log.Error().Err(err).Str("path", path).Msg("Artifact backup failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *S3Backup) uploadOne(ctx context.Context, runID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open artifact %s: %w", path, err)
	}
	defer f.Close()

	key := filepath.ToSlash(filepath.Join(b.prefix, runID, filepath.Base(path)))
	_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	b.log.Debug().Str("key", key).Msg("Artifact backed up")
	return nil
}
