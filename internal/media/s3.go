// internal/media/s3.go
// Package media provides S3-compatible storage integration for video assets.
// The catalog stores locations as URIs; for s3:// locations this package
// turns them into short-lived presigned download URLs so clients can fetch
// footage without streaming it through the catalog service.
package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client wraps the AWS S3 client for video asset operations.
type S3Client struct {
	client *s3.Client // AWS S3 client
	ttl    time.Duration
}

// NewS3Client creates a new S3 client for asset operations.
// It supports both AWS S3 and S3-compatible services like MinIO.
// Parameters:
//   - endpoint: S3 service endpoint URL (empty for AWS)
//   - region: AWS region (or equivalent for S3-compatible services)
//   - accessKey: Access key for authentication
//   - secretKey: Secret key for authentication
//   - ttl: Lifetime of generated presigned URLs
func NewS3Client(endpoint, region, accessKey, secretKey string, ttl time.Duration) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		// Configure static credentials
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO and other S3-compatible services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Client{client: client, ttl: ttl}, nil
}

// SplitURI breaks an s3://bucket/key URI into its bucket and key.
// Returns an error for any other scheme or a URI without both parts.
func SplitURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid asset uri %q: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("asset uri %q is not an s3 location", uri)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("asset uri %q is missing bucket or key", uri)
	}
	return bucket, key, nil
}

// PresignDownload generates a presigned GET URL for the object behind an
// s3:// URI. This allows clients to download directly from object storage
// without streaming through the VAM service.
// Parameters:
//   - ctx: Context for the operation
//   - uri: The s3://bucket/key location recorded in the catalog
//
// Returns the presigned URL and its expiry instant.
func (s *S3Client) PresignDownload(ctx context.Context, uri string) (string, time.Time, error) {
	bucket, key, err := SplitURI(uri)
	if err != nil {
		return "", time.Time{}, err
	}

	presignClient := s3.NewPresignClient(s.client)

	presignResult, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.ttl
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignResult.URL, time.Now().Add(s.ttl).UTC(), nil
}

// VerifyObject verifies that the object behind an s3:// URI exists, returning
// its size. Used before handing out a download link for a stale reference.
func (s *S3Client) VerifyObject(ctx context.Context, uri string) (int64, error) {
	bucket, key, err := SplitURI(uri)
	if err != nil {
		return 0, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get object metadata: %w", err)
	}

	var size int64
	if result.ContentLength != nil {
		size = *result.ContentLength
	}
	return size, nil
}
