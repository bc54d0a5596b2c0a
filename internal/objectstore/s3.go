package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DefaultPresignTTL is the lifetime of presigned GET URLs when none is configured.
const DefaultPresignTTL = time.Hour

// objectAPI is the subset of the S3 client used by S3Store.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(
		ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options),
	) (*s3.DeleteObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(
		ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions),
	) (*v4.PresignedHTTPRequest, error)
}

// S3Config configures the S3 client.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint overrides the AWS endpoint (MinIO, LocalStack). Path-style addressing is used when set.
	Endpoint   string
	PresignTTL time.Duration
}

// S3Store reads and writes image objects in one bucket.
type S3Store struct {
	client     objectAPI
	presigner  presignAPI
	bucket     string
	presignTTL time.Duration
}

// NewS3Store creates a store using the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PresignTTL), nil
}

func newS3Store(client objectAPI, presigner presignAPI, bucket string, ttl time.Duration) *S3Store {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	return &S3Store{client: client, presigner: presigner, bucket: bucket, presignTTL: ttl}
}

// Bucket returns the configured bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Upload puts the local file at key and returns its s3:// URI.
func (s *S3Store) Upload(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // path comes from the catalog workflow
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               f,
		ContentType:        aws.String(ContentType(key)),
		ContentDisposition: aws.String("inline"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	uri := URI(s.bucket, key)
	slog.Debug("object uploaded", "s3_uri", uri)

	return uri, nil
}

// Download writes the object addressed by uri to localPath.
func (s *S3Store) Download(ctx context.Context, uri, localPath string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
		}

		return fmt.Errorf("failed to get object %s: %w", uri, err)
	}
	defer out.Body.Close()

	f, err := os.Create(localPath) //nolint:gosec // scratch path owned by the caller
	if err != nil {
		return fmt.Errorf("create download target: %w", err)
	}

	if _, err := io.Copy(f, out.Body); err != nil {
		_ = f.Close()

		return fmt.Errorf("failed to read object %s: %w", uri, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close download target: %w", err)
	}

	return nil
}

// Delete removes the object addressed by uri. S3 reports success for missing keys, so the object is
// checked first and ErrObjectNotFound is returned when it does not exist.
func (s *S3Store) Delete(ctx context.Context, uri string) error {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, uri)
		}

		return fmt.Errorf("failed to head object %s: %w", uri, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket), Key: aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", uri, err)
	}

	return nil
}

// Presign returns a time-limited GET URL for uri that renders inline in a browser.
func (s *S3Store) Presign(ctx context.Context, uri string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(bucket),
		Key:                        aws.String(key),
		ResponseContentType:        aws.String(ContentType(key)),
		ResponseContentDisposition: aws.String(fmt.Sprintf("inline; filename=%q", path.Base(key))),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", uri, err)
	}

	return req.URL, nil
}

func isNotFound(err error) bool {
	var (
		notFound *types.NotFound
		noKey    *types.NoSuchKey
	)

	if errors.As(err, &notFound) || errors.As(err, &noKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	return false
}
