package s3

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/vidsentry/pkg/provider"
)

// Provider implements provider.ObjectStore for S3.
type Provider struct {
	client  *s3.Client
	bucket  string
	maxKeys int
}

var _ provider.ObjectStore = (*Provider)(nil)

// New creates an S3 provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderS3,
			Bucket:   cfg.Bucket,
			Err:      err,
		}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}

	return &Provider{client: client, bucket: cfg.Bucket, maxKeys: maxKeys}, nil
}

// Bucket returns the configured bucket name.
func (p *Provider) Bucket() string { return p.bucket }

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only pin the region when configured; env and profile come first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	if awsCfg.Region == "" && cfg.Endpoint == "" && cfg.RegionFromIMDS {
		awsCfg.Region = imdsRegion(ctx, awsCfg)
	}
	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// imdsRegion returns the instance's region, or "" when the metadata
// service is unreachable.
func imdsRegion(ctx context.Context, awsCfg aws.Config) string {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()

	out, err := imds.NewFromConfig(awsCfg).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return ""
	}
	return out.Region
}

// List returns a page of objects with the given prefix.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		MaxKeys: aws.Int32(int32(clampMaxKeys(opts.MaxKeys, p.maxKeys))),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	output, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, p.wrapError("List", "", err)
	}

	objects := make([]provider.ObjectSummary, 0, len(output.Contents))
	for _, obj := range output.Contents {
		objects = append(objects, provider.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	return &provider.ListResult{
		Objects:           objects,
		IsTruncated:       aws.ToBool(output.IsTruncated),
		ContinuationToken: aws.ToString(output.NextContinuationToken),
	}, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	output, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}

	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(output.ContentLength),
			ETag:         cleanETag(aws.ToString(output.ETag)),
			LastModified: aws.ToTime(output.LastModified),
		},
		ContentType: aws.ToString(output.ContentType),
		Metadata:    output.Metadata,
	}, nil
}

// GetObject streams an object's body.
func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// PutObject uploads an object. A negative contentLength leaves the length
// unset.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts provider.PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(p.bucket),
		Key:      aws.String(key),
		Body:     body,
		Metadata: opts.Metadata,
	}
	if contentLength >= 0 {
		input.ContentLength = aws.Int64(contentLength)
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject deletes an object.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

// Close satisfies provider.Provider; the S3 client holds nothing to release.
func (p *Provider) Close() error {
	return nil
}

// wrapError converts S3 errors to provider errors carrying sentinel errors.
func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   p.bucket,
		Key:      key,
		Err:      err,
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = provider.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if sentinel := sentinelForCode(apiErr.ErrorCode()); sentinel != nil {
			wrapped.Err = sentinel
		}
		return wrapped
	}

	// Fallback for errors that lost their API type, matched on message text.
	errMsg := err.Error()
	switch {
	case containsAny(errMsg, "NoSuchKey", "NotFound", "404"):
		wrapped.Err = provider.ErrNotFound
	case containsAny(errMsg, "NoSuchBucket"):
		wrapped.Err = provider.ErrBucketNotFound
	case containsAny(errMsg, "AccessDenied", "Forbidden", "403"):
		wrapped.Err = provider.ErrAccessDenied
	case containsAny(errMsg, "InvalidAccessKeyId", "SignatureDoesNotMatch"):
		wrapped.Err = provider.ErrInvalidCredentials
	case containsAny(errMsg, "SlowDown", "Throttling", "429"):
		wrapped.Err = provider.ErrThrottled
	case containsAny(errMsg, "ServiceUnavailable", "503"):
		wrapped.Err = provider.ErrProviderUnavailable
	}
	return wrapped
}

func sentinelForCode(code string) error {
	switch code {
	case "NoSuchKey", "NotFound":
		return provider.ErrNotFound
	case "NoSuchBucket":
		return provider.ErrBucketNotFound
	case "AccessDenied", "Forbidden":
		return provider.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return provider.ErrInvalidCredentials
	case "SlowDown", "Throttling", "RequestLimitExceeded":
		return provider.ErrThrottled
	case "ServiceUnavailable", "InternalError":
		return provider.ErrProviderUnavailable
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// cleanETag removes the quotes S3 puts around ETag values.
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

// clampMaxKeys applies the provider default when requested is <= 0 and
// caps the result at MaxAllowedKeys.
func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	return min(requested, MaxAllowedKeys)
}

// resolveRegion applies the us-east-1 fallback after SDK loading. The
// sdkRegion already reflects explicit config, env, profile, and IMDS.
// S3-compatible endpoints get no default.
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	_ = cfgRegion
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
