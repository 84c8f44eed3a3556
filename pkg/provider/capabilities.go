package provider

import (
	"context"
	"io"
)

// Optional capability interfaces, checked with type assertions.

// PutOptions carries object attributes set on write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectPutter can create or overwrite objects.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts PutOptions) error
}

// ObjectDeleter can delete objects.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// ObjectGetter can download objects as a stream.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}
