// Package provider defines abstractions for the object storage that holds
// uploaded videos.
//
// Providers implement a small surface: listing, metadata, and whole-object
// reads and writes. Authentication uses SDK default credential chains -
// providers should not implement custom auth logic.
package provider

import (
	"context"
	"time"
)

// Provider abstracts object storage listing and metadata.
//
// Implementations should:
//   - Use SDK default credential chains (AWS default config)
//   - Support pagination via continuation tokens
//   - Be safe for concurrent use
type Provider interface {
	// List returns a page of objects with the given prefix.
	// Use ContinuationToken from ListResult for subsequent pages.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases any resources held by the provider.
	Close() error
}

// ObjectStore is a provider that can also read, write, and delete objects.
type ObjectStore interface {
	Provider
	ObjectPutter
	ObjectGetter
	ObjectDeleter
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists all objects.
	Prefix string

	// ContinuationToken resumes listing from a previous ListResult.
	ContinuationToken string

	// MaxKeys limits the number of objects returned per page.
	// Zero uses provider default (typically 1000).
	MaxKeys int
}

// ListResult contains a page of objects from a List operation.
type ListResult struct {
	Objects []ObjectSummary

	// ContinuationToken is used to retrieve the next page.
	// Empty string indicates no more pages.
	ContinuationToken string

	IsTruncated bool
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
type ObjectMeta struct {
	ObjectSummary

	ContentType string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local directory.
	ProviderFile ProviderType = "file"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// ParseProviderType maps a configuration value onto a ProviderType.
func ParseProviderType(s string) (ProviderType, bool) {
	switch ProviderType(s) {
	case ProviderS3:
		return ProviderS3, true
	case ProviderFile, "":
		return ProviderFile, true
	default:
		return "", false
	}
}
