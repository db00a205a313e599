package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	log "github.com/sirupsen/logrus"
)

const archiveContentType = "application/zip"

// Config holds configuration for the S3 handoff.
type Config struct {
	// Bucket is the S3 bucket archives are uploaded to.
	Bucket string

	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible services).
	Endpoint string

	// PathStyle forces path-style addressing (required for Localstack/MinIO).
	PathStyle bool

	// Static credentials. Both empty means the SDK's default chain.
	AccessKeyID     string
	SecretAccessKey string

	// PresignExpiry is the lifetime of download links.
	// Defaults to DefaultPresignExpiry.
	PresignExpiry time.Duration
}

// S3 uploads archives to an S3 bucket and signs GET links to them.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

var _ Handoff = (*S3)(nil)

// New creates an S3 handoff with an existing client.
func New(client *s3.Client, cfg Config) *S3 {
	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}

	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		expiry:  expiry,
	}
}

// NewFromConfig creates an S3 handoff, building the client from cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 handoff requires bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services often reject the newer default
			// integrity checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return New(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Upload implements Handoff. No retries are attempted beyond the SDK's own.
func (s *S3) Upload(ctx context.Context, archivePath string, key string) (*Link, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	log.Infof("uploading archive to s3: bucket=%s key=%s size=%d", s.bucket, key, info.Size())

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(archiveContentType),
	})
	if err != nil {
		return nil, apiError("put object", err)
	}

	return s.Sign(ctx, key)
}

// Sign returns a presigned GET link for key.
func (s *S3) Sign(ctx context.Context, key string) (*Link, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, apiError("presign get object", err)
	}

	return &Link{URL: req.URL, ExpiresIn: s.expiry}, nil
}

// apiError wraps err with the operation and, if S3 returned one, its error
// code.
func apiError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("s3 %s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("s3 %s: %w", op, err)
}
