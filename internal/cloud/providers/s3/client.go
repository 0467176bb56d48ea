// Package s3 exposes S3 prefixes as drop payloads for the upload queue.
// This file contains the S3 client factory.
package s3

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/rescale/filez/internal/config"
	"github.com/rescale/filez/internal/http"
)

// Environment variables for static credentials, mainly for S3-compatible
// endpoints. Without them the default AWS credential chain applies.
const (
	envAccessKeyID     = "FILEZ_S3_ACCESS_KEY_ID"
	envSecretAccessKey = "FILEZ_S3_SECRET_ACCESS_KEY"
)

// API is the subset of *s3.Client the source uses.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// NewS3Client creates an S3 client that shares the proxy-aware transfer
// transport with the file service client.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	httpClient, err := http.CreateTransferClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if id, secret := os.Getenv(envAccessKeyID), os.Getenv(envSecretAccessKey); id != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(id, secret, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.S3Endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	log.Debug().Str("region", awsCfg.Region).Str("endpoint", endpoint).Msg("S3 client ready")
	return client, nil
}
