// Package storage stores run bundles, results and logs in S3 or MinIO.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/openctemio/qualitygate/pkg/domain/shared"
	"github.com/openctemio/qualitygate/pkg/logger"
)

// combinedLogFile is the name the executor archives a job's main log under.
const combinedLogFile = "main.log"

// deleteBatchSize is the S3 limit of keys per DeleteObjects call.
const deleteBatchSize = 1000

// S3Config contains configuration for the S3 store.
type S3Config struct {
	Bucket     string
	Region     string
	Endpoint   string // Custom endpoint for S3-compatible services
	AccessKey  string
	SecretKey  string
	LogsPrefix string
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Store is the blob store of runs.
type S3Store struct {
	bucket     string
	logsPrefix string
	client     s3API
	logger     *logger.Logger
}

// NewS3Store creates a store backed by S3 or an S3-compatible service.
func NewS3Store(ctx context.Context, cfg S3Config, log *logger.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	awsOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		awsOpts = append(awsOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return newS3Store(s3.NewFromConfig(awsCfg, s3Opts...), cfg, log), nil
}

func newS3Store(client s3API, cfg S3Config, log *logger.Logger) *S3Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &S3Store{
		bucket:     cfg.Bucket,
		logsPrefix: strings.Trim(cfg.LogsPrefix, "/"),
		client:     client,
		logger:     log.With("component", "s3-store"),
	}
}

// UploadConfig uploads a run bundle under its storage path.
func (s *S3Store) UploadConfig(ctx context.Context, storagePath string, files map[string][]byte) error {
	for name, content := range files {
		key := joinKey(storagePath, name)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(content),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
	}
	s.logger.Debug("bundle uploaded", "storage_path", storagePath, "files", len(files))
	return nil
}

// DownloadResult downloads a result document and strips archive layers.
// A missing object yields an error wrapping shared.ErrNotFound.
func (s *S3Store) DownloadResult(ctx context.Context, key string) ([]byte, error) {
	return s.download(ctx, key)
}

// DownloadLogs downloads the combined log the executor archived for a job.
func (s *S3Store) DownloadLogs(ctx context.Context, jobName string) ([]byte, error) {
	return s.download(ctx, s.LogsKey(jobName))
}

// LogsKey returns the key of a job's combined log.
func (s *S3Store) LogsKey(jobName string) string {
	return joinKey(s.logsPrefix, jobName, combinedLogFile)
}

func (s *S3Store) download(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: object %s", shared.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return Unwrap(data)
}

// FileExists reports whether an object exists.
func (s *S3Store) FileExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to head object %s: %w", key, err)
}

// RemovePath deletes every object under a storage path.
func (s *S3Store) RemovePath(ctx context.Context, storagePath string) error {
	prefix := strings.TrimSuffix(storagePath, "/") + "/"

	var keys []types.ObjectIdentifier
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		}
	}

	for start := 0; start < len(keys); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(keys))
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: keys[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects under %s: %w", prefix, err)
		}
	}
	s.logger.Info("storage path removed", "storage_path", storagePath, "objects", len(keys))
	return nil
}

func joinKey(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return path.Join(nonEmpty...)
}
