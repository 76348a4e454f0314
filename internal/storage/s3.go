package storage

import (
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
)

// maxDeleteBatch is the S3 DeleteObjects limit per request.
const maxDeleteBatch = 1000

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	KeyPrefix       string // Optional: prepended to every object key
	Endpoint        string // Optional: for custom S3-compatible endpoints
	PublicBaseURL   string // Optional: overrides the virtual-hosted object URL
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// Compile-time check that S3Store implements ObjectStore.
var _ ObjectStore = (*S3Store)(nil)

// S3Store implements ObjectStore on a single S3 bucket. Logical buckets map
// to key prefixes: <KeyPrefix>/<bucket>/<name>.
type S3Store struct {
	client        *s3.Client
	bucket        string
	region        string
	keyPrefix     string
	publicBaseURL string
}

// NewS3Store creates a new S3Store instance.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client:        s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:        cfg.Bucket,
		region:        cfg.Region,
		keyPrefix:     strings.Trim(cfg.KeyPrefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Key returns the S3 object key for bucket/name.
func (s *S3Store) Key(bucket, name string) string {
	if s.keyPrefix == "" {
		return path.Join(bucket, name)
	}
	return path.Join(s.keyPrefix, bucket, name)
}

// URL returns the public URL of an object key.
func (s *S3Store) URL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

// Upload uploads body to S3 and returns the public URL.
func (s *S3Store) Upload(ctx context.Context, bucket, name string, body io.Reader, contentType string) (string, error) {
	key := s.Key(bucket, name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}

	return s.URL(key), nil
}

// Remove deletes the named objects in batches of up to 1000 keys.
func (s *S3Store) Remove(ctx context.Context, bucket string, names []string) error {
	var errs []error
	for start := 0; start < len(names); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(names))

		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, n := range names[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.Key(bucket, n))})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete from S3: %w", err))
			continue
		}
		for _, e := range out.Errors {
			errs = append(errs, fmt.Errorf("delete %s: %s", aws.ToString(e.Key), aws.ToString(e.Message)))
		}
	}
	return errors.Join(errs...)
}
