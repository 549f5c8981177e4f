// Package s3blob archives ledger trades to object storage using AWS SDK v2.
// Any S3-compatible provider works through Endpoint and ForcePathStyle.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig locates the archive bucket.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint, e.g. "minio:9000". Empty means AWS.
	Endpoint string
	Region   string
	Bucket   string

	// AccessKey and SecretKey are static credentials. When both are empty
	// the default AWS credential chain is used.
	AccessKey string
	SecretKey string

	// UseSSL picks the scheme for an Endpoint given without one.
	UseSSL bool

	// ForcePathStyle puts the bucket in the path instead of the host name.
	ForcePathStyle bool
}

// Client wraps the AWS S3 SDK client and the archive bucket name.
type Client struct {
	s3     *s3.Client
	bucket string
}

// maxAttempts bounds SDK retries of one archive request.
const maxAttempts = 5

func (cfg ClientConfig) validate() error {
	var errs []error
	if cfg.Bucket == "" {
		errs = append(errs, errors.New("bucket name is required"))
	}
	if cfg.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if (cfg.AccessKey == "") != (cfg.SecretKey == "") {
		errs = append(errs, errors.New("access key and secret key must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("s3blob: %w", err)
	}
	return nil
}

// New creates a Client for cfg. Static credentials are used when set;
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(maxAttempts),
		config.WithAppID("tradeledger"),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Health checks that the bucket is reachable with the configured credentials.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *Client) Close() error {
	return nil
}

// S3 returns the underlying AWS SDK S3 client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the configured default bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// normaliseEndpoint prepends a scheme to an endpoint given without one.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	// url.Parse reads "host:port" as an opaque URL with scheme "host".
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
