package media

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client reads audio objects from S3-compatible storage
type S3Client struct {
	client *s3.Client
}

// NewS3Client loads credentials from the default AWS chain
func NewS3Client(ctx context.Context, region string) (*S3Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return &S3Client{client: s3.NewFromConfig(cfg)}, nil
}

// Open streams the object and returns the extension to store it under
func (c *S3Client) Open(ctx context.Context, bucket, key string) (io.ReadCloser, string, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("unable to get s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, ExtensionFor(aws.ToString(out.ContentType), key), nil
}
