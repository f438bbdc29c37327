// Package s3 provides a read-only S3-compatible store for atlas buckets.
//
// It supports AWS S3, MinIO, LocalStack, and other S3-compatible object
// stores. The atlas buckets are published datasets, so the adapter exposes
// no write operations.
package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // mock ETags mirror S3's MD5-based ETags
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/openatlas/atlasfetch/atlasfetch"
)

// API defines the subset of the S3 client interface used by the store.
// This enables testing with mock implementations.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds configuration for the S3 store.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	// If set, all keys are prefixed with this value (with a trailing slash added if missing).
	Prefix string
}

// Store implements atlasfetch.Store against an S3-compatible backend.
type Store struct {
	client API
	bucket string
	prefix string
}

// New creates a new S3 store with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint;
// see NewClient and NewPublicClient.
func New(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Bucket returns the bucket name this store reads from.
func (s *Store) Bucket() string { return s.bucket }

// Get retrieves the object at the given key.
// Returns ErrNotFound if the key does not exist and ErrAccessDenied when
// credentials are missing or rejected.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, classify("get object", err)
	}

	return out.Body, nil
}

// Head returns object metadata without transferring the body.
func (s *Store) Head(ctx context.Context, key string) (atlasfetch.ObjectInfo, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return atlasfetch.ObjectInfo{}, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return atlasfetch.ObjectInfo{}, classify("head object", err)
	}

	return atlasfetch.ObjectInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// Exists checks whether a key exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	fullKey, err := s.validateKey(key)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify("head object", err)
	}
	return true, nil
}

// List returns all keys under the given prefix.
// Pagination is handled automatically; all matching keys are returned.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix, err := s.validatePrefix(prefix)
	if err != nil {
		return nil, err
	}

	var keys []string
	var continuationToken *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, classify("list objects", err)
		}

		for _, obj := range out.Contents {
			if obj.Key != nil {
				// Strip the store prefix to return relative keys
				keys = append(keys, strings.TrimPrefix(*obj.Key, s.prefix))
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return keys, nil
}

// validateKey validates and returns the full key for object operations.
func (s *Store) validateKey(key string) (string, error) {
	if key == "" {
		return "", atlasfetch.ErrInvalidKey
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", atlasfetch.ErrInvalidKey
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", atlasfetch.ErrInvalidKey
	}

	return s.prefix + cleaned, nil
}

// validatePrefix validates and returns the full prefix for list operations.
func (s *Store) validatePrefix(prefix string) (string, error) {
	if prefix == "" {
		return s.prefix, nil
	}

	cleaned := path.Clean(prefix)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", atlasfetch.ErrInvalidKey
	}
	if cleaned == "." {
		return s.prefix, nil
	}
	cleaned = strings.TrimPrefix(cleaned, "/")

	return s.prefix + cleaned, nil
}

// classify maps S3 errors onto the package sentinels so callers can use
// errors.Is without importing AWS types.
func classify(op string, err error) error {
	if isNotFound(err) {
		return atlasfetch.ErrNotFound
	}
	if isAccessDenied(err) {
		return atlasfetch.ErrAccessDenied
	}
	return fmt.Errorf("s3: %s: %w", op, err)
}

// isNotFound checks if an error indicates the object was not found.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

// isAccessDenied checks if an error indicates rejected or missing credentials.
func isAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "403":
			return true
		}
	}
	return false
}

// Ensure Store implements atlasfetch.Store
var _ atlasfetch.Store = (*Store)(nil)

// -----------------------------------------------------------------------------
// Mock S3 Client for Testing
// -----------------------------------------------------------------------------

// MockS3Client is a test double for API. Objects carry MD5-derived ETags,
// matching single-part S3 uploads.
type MockS3Client struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// DenyAccess makes every call fail with an AccessDenied API error.
	DenyAccess bool

	// GetCalls counts GetObject invocations.
	GetCalls int
}

// NewMockS3Client creates a new mock S3 client for testing.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{
		objects: make(map[string][]byte),
	}
}

// AddObject stores an object in the mock bucket.
func (m *MockS3Client) AddObject(key string, data []byte) {
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
}

// GetObject implements API.GetObject for testing.
func (m *MockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.Lock()
	m.GetCalls++
	deny := m.DenyAccess
	data, exists := m.objects[key]
	m.mu.Unlock()

	if deny {
		return nil, &smithyAPIError{code: "AccessDenied", message: "access denied"}
	}
	if !exists {
		return nil, &types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(`"` + mockETag(data) + `"`),
	}, nil
}

// HeadObject implements API.HeadObject for testing.
func (m *MockS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.RLock()
	deny := m.DenyAccess
	data, exists := m.objects[key]
	m.mu.RUnlock()

	if deny {
		return nil, &smithyAPIError{code: "AccessDenied", message: "access denied"}
	}
	if !exists {
		return nil, &smithyAPIError{code: "NotFound", message: "not found"}
	}

	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(`"` + mockETag(data) + `"`),
	}, nil
}

// ListObjectsV2 implements API.ListObjectsV2 for testing.
func (m *MockS3Client) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.DenyAccess {
		return nil, &smithyAPIError{code: "AccessDenied", message: "access denied"}
	}

	var contents []types.Object
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			k := key
			contents = append(contents, types.Object{Key: &k})
		}
	}

	return &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(false),
	}, nil
}

func mockETag(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // mirrors S3 ETag computation
	return hex.EncodeToString(sum[:])
}

// smithyAPIError implements smithy.APIError for testing.
type smithyAPIError struct {
	code    string
	message string
}

func (e *smithyAPIError) Error() string {
	return e.message
}

func (e *smithyAPIError) ErrorCode() string {
	return e.code
}

func (e *smithyAPIError) ErrorMessage() string {
	return e.message
}

func (e *smithyAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}
