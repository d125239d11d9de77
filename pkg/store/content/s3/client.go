package s3

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultMaxRetries is the number of attempts per request when unset.
const DefaultMaxRetries = 10

// ClientConfig describes how to reach the object store.
type ClientConfig struct {
	// Region is the bucket region (e.g., "us-east-1").
	Region string `mapstructure:"region" validate:"required"`

	// Endpoint overrides the service URL for S3-compatible storage
	// (MinIO, Localstack, ...). Path-style addressing is used with it.
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty, the default AWS credential chain is used.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries is the number of attempts for transient failures
	// (502, 503, timeouts). Default: 10
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,gte=1"`
}

// NewClient builds an S3 client from cfg.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	if cfg.Region == "" {
		return nil, errors.New("S3 region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
