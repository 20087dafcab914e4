// Package s3 implements the backend engine over Amazon S3 or any
// S3-compatible service (MinIO, Localstack, Ceph RGW). Listings map the
// gateway's prefix/delimiter/start-after contract directly onto
// ListObjectsV2, so the backend performs the directory grouping.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/objgw/objgw/internal/logger"
	"github.com/objgw/objgw/pkg/engine"
)

// Config describes how to reach the backend.
type Config struct {
	// Region is the AWS region (required).
	Region string `mapstructure:"region" validate:"required"`

	// Endpoint overrides the AWS endpoint, for S3-compatible services.
	// When set, path-style addressing is forced.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey select static credentials. When
	// empty the default AWS credential chain applies.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries bounds retry attempts for transient backend failures.
	MaxRetries int `mapstructure:"max_retries"`
}

// Engine executes gateway operations against an S3 endpoint.
type Engine struct {
	client *awss3.Client
}

var _ engine.Engine = (*Engine)(nil)

// New builds an Engine from cfg, loading the AWS configuration chain and
// applying endpoint, credential and retry overrides.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 engine: region is required")
	}

	options := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	if cfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		resolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck
		options = append(options, awsConfig.WithEndpointResolverWithOptions(resolver))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		options = append(options, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	options = append(options, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	})

	logger.Info("s3 engine: region=%s endpoint=%s retries=%d", cfg.Region, cfg.Endpoint, maxRetries)
	return &Engine{client: client}, nil
}

// notFound reports whether err is any of the backend's absence shapes.
func notFound(err error) bool {
	var nsk *types.NoSuchKey
	var nsb *types.NoSuchBucket
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nsb) || errors.As(err, &nf)
}

// ListBuckets enumerates bucket names after marker in lexical order. The
// backend call is unpaginated, so the marker skip happens client-side.
func (e *Engine) ListBuckets(ctx context.Context, marker string, fn engine.ListFunc) (bool, error) {
	out, err := e.client.ListBuckets(ctx, &awss3.ListBucketsInput{})
	if err != nil {
		return false, fmt.Errorf("list buckets: %w", err)
	}

	names := make([]string, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		names = append(names, aws.ToString(b.Name))
	}
	sort.Strings(names)

	for _, name := range names {
		if marker != "" && name <= marker {
			continue
		}
		if !fn(name, name, false) {
			return false, nil
		}
	}
	return false, nil
}

// groupEnd is the maximum Unicode code point. Appended to a grouped
// common prefix it yields a resume marker that stays inside the group's
// key space: it sorts after every UTF-8 key under the prefix but before
// the next sibling key, so an exclusive start-after resume cannot skip
// the entry adjacent to the group.
const groupEnd = "\U0010FFFF"

// afterGroup returns the resume marker for the common prefix p.
func afterGroup(p string) string {
	return p + groupEnd
}

// ListObjects enumerates keys and common prefixes under prefix, grouped
// by delimiter, strictly after marker, at most max entries. The marker
// passed to fn resumes after the entry: for an object its own key, for a
// common prefix a sentinel sorting after every key inside the group.
func (e *Engine) ListObjects(ctx context.Context, bucket, prefix, delimiter, marker string, max int32, fn engine.ListFunc) (bool, error) {
	if max <= 0 {
		max = 1000
	}

	in := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(max),
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}
	if marker != "" {
		in.StartAfter = aws.String(marker)
	}

	out, err := e.client.ListObjectsV2(ctx, in)
	if err != nil {
		if notFound(err) {
			return false, engine.ErrNotFound
		}
		return false, fmt.Errorf("list objects %s: %w", bucket, err)
	}

	// S3 returns contents and common prefixes as separate lists; merge
	// them back into one lexical stream so resumption markers stay
	// monotonic.
	type entry struct {
		name     string
		marker   string
		isPrefix bool
	}
	entries := make([]entry, 0, len(out.Contents)+len(out.CommonPrefixes))
	for _, o := range out.Contents {
		k := aws.ToString(o.Key)
		entries = append(entries, entry{name: k, marker: k})
	}
	for _, p := range out.CommonPrefixes {
		cp := aws.ToString(p.Prefix)
		entries = append(entries, entry{name: cp, marker: afterGroup(cp), isPrefix: true})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	for _, en := range entries {
		if !fn(en.name, en.marker, en.isPrefix) {
			return false, nil
		}
	}
	return aws.ToBool(out.IsTruncated), nil
}

func (e *Engine) HeadBucket(ctx context.Context, bucket string) (bool, error) {
	_, err := e.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return true, nil
}

func (e *Engine) CreateBucket(ctx context.Context, bucket string) error {
	_, err := e.client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (e *Engine) DeleteBucket(ctx context.Context, bucket string) error {
	_, err := e.client.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if notFound(err) {
			return engine.ErrNotFound
		}
		return fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return nil
}

func (e *Engine) HeadObject(ctx context.Context, bucket, key string) (engine.ObjectInfo, error) {
	out, err := e.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if notFound(err) {
			return engine.ObjectInfo{}, engine.ErrNotFound
		}
		return engine.ObjectInfo{}, fmt.Errorf("head object %s/%s: %w", bucket, key, err)
	}
	return engine.ObjectInfo{
		Size:  aws.ToInt64(out.ContentLength),
		Mtime: aws.ToTime(out.LastModified),
	}, nil
}

func (e *Engine) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error {
	_, err := e.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		if notFound(err) {
			return engine.ErrNotFound
		}
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (e *Engine) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := e.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if notFound(err) {
			return nil, engine.ErrNotFound
		}
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}

func (e *Engine) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := e.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if notFound(err) {
			return engine.ErrNotFound
		}
		return fmt.Errorf("delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}
