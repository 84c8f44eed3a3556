// Package s3 stores uploaded videos in AWS S3 or an S3-compatible bucket.
package s3

import "time"

// Config configures an S3 provider.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set:
//  1. Explicit AccessKeyID/SecretAccessKey
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials and config files, honoring Profile
//  4. EC2 instance metadata / ECS task role / EKS IRSA
//
// Region resolution: explicit Region, then env/profile, then (when
// RegionFromIMDS is set) the EC2 instance metadata service, then us-east-1.
// When Endpoint is set no default region is applied.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores such as
	// MinIO (http://localhost:9000). Leave empty for AWS S3.
	Endpoint string

	Profile string

	// AccessKeyID and SecretAccessKey must be provided together.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the path instead of the host name.
	// Required by most S3-compatible stores.
	ForcePathStyle bool

	// RegionFromIMDS asks the instance metadata service for the region when
	// neither config nor environment provides one.
	RegionFromIMDS bool

	// MaxKeys is the default page size for List operations.
	// Zero uses 1000. Larger values are clamped.
	MaxKeys int
}

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// MaxAllowedKeys is the maximum page size allowed by S3.
const MaxAllowedKeys = 1000

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// imdsTimeout bounds the metadata lookup so off-EC2 hosts do not stall.
const imdsTimeout = 2 * time.Second

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
