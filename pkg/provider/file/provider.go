// Package file stores objects as files under a local directory.
package file

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/3leaps/vidsentry/pkg/provider"
)

// Provider implements provider.ObjectStore for a local directory.
//
// Keys are slash-separated paths relative to BaseDir.
type Provider struct {
	baseDir string
}

var _ provider.ObjectStore = (*Provider)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// BaseDir returns the directory objects are written under.
func (p *Provider) BaseDir() string { return p.baseDir }

func (p *Provider) Close() error { return nil }

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	keys, err := p.collectKeys(ctx, prefix)
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}
	sort.Strings(keys)

	start := 0
	if opts.ContinuationToken != "" {
		// Resume strictly after the last returned key.
		start = sort.SearchStrings(keys, opts.ContinuationToken)
		for start < len(keys) && keys[start] <= opts.ContinuationToken {
			start++
		}
	}
	end := min(start+maxKeys, len(keys))

	objects := make([]provider.ObjectSummary, 0, end-start)
	for _, k := range keys[start:end] {
		full, err := p.fullPath(k)
		if err != nil {
			continue
		}
		st, err := os.Stat(full)
		if err != nil || st.IsDir() {
			continue
		}
		objects = append(objects, provider.ObjectSummary{Key: k, Size: st.Size(), LastModified: st.ModTime()})
	}

	res := &provider.ListResult{Objects: objects}
	if end < len(keys) {
		res.IsTruncated = true
		res.ContinuationToken = keys[end-1]
	}
	return res, nil
}

// Head returns file metadata. The content type is sniffed from the file
// contents.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	if st.IsDir() {
		return nil, p.wrapError("Head", key, provider.ErrNotFound)
	}

	meta := &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: st.Size(), LastModified: st.ModTime()},
	}
	if mt, err := mimetype.DetectFile(full); err == nil {
		meta.ContentType = mt.String()
	}
	return meta, nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, p.wrapError("GetObject", key, err)
	}
	return f, st.Size(), nil
}

// PutObject writes body to a temp file in the target directory and renames
// it into place. Content type and metadata are not persisted.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts provider.PutOptions) error {
	_ = opts
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return p.wrapError("PutObject", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".vidsentry-put-*")
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	n, err := io.Copy(tmp, contextReader{ctx: ctx, r: body})
	if err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if contentLength >= 0 && n != contentLength {
		return p.wrapError("PutObject", key, fmt.Errorf("short write: got %d bytes, want %d", n, contentLength))
	}
	if err := tmp.Close(); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

// DeleteObject removes a file. Missing files are not an error.
func (p *Provider) DeleteObject(ctx context.Context, key string) error {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("DeleteObject", key, err)
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return p.wrapError("DeleteObject", key, err)
	}
	return nil
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	// Prevent path traversal.
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

func (p *Provider) collectKeys(ctx context.Context, prefix string) ([]string, error) {
	// The prefix may end mid-name, so walk its directory and filter.
	dirPrefix := prefix
	if !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix = filepath.ToSlash(filepath.Dir(dirPrefix))
		if dirPrefix == "." {
			dirPrefix = ""
		}
	}
	root, err := p.fullPath(dirPrefix)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var keys []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".vidsentry-put-") {
			return nil
		}
		rel, err := filepath.Rel(p.baseDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	return keys, err
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Key: key, Err: err}
	switch {
	case err == nil:
		wrapped.Err = fmt.Errorf("unknown error")
	case os.IsNotExist(err):
		wrapped.Err = provider.ErrNotFound
	case os.IsPermission(err):
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
