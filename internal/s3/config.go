package s3

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds configuration for creating an S3 client.
type ClientConfig struct {
	// Region is the AWS region (required).
	Region string

	// Endpoint is an optional custom endpoint URL.
	// Used for S3-compatible services (MinIO, LocalStack, R2).
	Endpoint string

	// UsePathStyle enables path-style addressing instead of virtual-hosted
	// style. Required for some S3-compatible services.
	UsePathStyle bool

	// Anonymous requests unsigned access. The public atlas buckets require
	// no credentials at all.
	Anonymous bool

	// Credentials are the AWS credentials to use.
	// If nil (and Anonymous is false), uses the default credential chain.
	Credentials aws.CredentialsProvider
}

// NewClient creates a new S3 client with the given configuration.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	switch {
	case cfg.Anonymous:
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	case cfg.Credentials != nil:
		opts = append(opts, config.WithCredentialsProvider(cfg.Credentials))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	s3Opts := []func(*s3.Options){}

	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// NewPublicClient creates an S3 client for anonymous access to public
// buckets, the equivalent of an unsigned request configuration.
func NewPublicClient(ctx context.Context, region string) (*s3.Client, error) {
	return NewClient(ctx, ClientConfig{
		Region:    region,
		Anonymous: true,
	})
}

// LoadAccessKeys reads an AWS console credentials export (accessKeys.csv)
// and returns a static credentials provider. The file is comma-delimited
// with an "Access key ID,Secret access key" header row; extra columns are
// ignored.
func LoadAccessKeys(path string) (aws.CredentialsProvider, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("s3: open credentials file: %w", err)
	}
	defer func() { _ = file.Close() }()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("s3: parse credentials file: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("s3: credentials file %s has no key row", path)
	}

	idCol, secretCol := -1, -1
	for i, name := range records[0] {
		switch normalizeHeader(name) {
		case "accesskeyid":
			idCol = i
		case "secretaccesskey":
			secretCol = i
		}
	}
	if idCol < 0 || secretCol < 0 {
		return nil, fmt.Errorf("s3: credentials file %s missing access key columns", path)
	}

	row := records[1]
	if idCol >= len(row) || secretCol >= len(row) {
		return nil, fmt.Errorf("s3: credentials file %s has a short key row", path)
	}

	return credentials.NewStaticCredentialsProvider(row[idCol], row[secretCol], ""), nil
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(name)
}
