// Package videostore keeps uploaded videos in object storage.
//
// Objects are laid out per job:
//
//	videos/<job_id>/<file name>    uploaded file contents
//	videos/<job_id>/source.json    reference record for URL uploads
package videostore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/provider"
)

const (
	// Prefix is the root of all video keys.
	Prefix = "videos"

	// SourceRecordName is the object written for URL uploads.
	SourceRecordName = "source.json"

	// sniffLen matches mimetype's default read limit.
	sniffLen = 3072
)

// ErrNoPayload is returned when a file upload arrives without contents.
var ErrNoPayload = errors.New("file upload has no payload")

// SourceRecord is stored for uploads that reference a URL instead of
// carrying bytes.
type SourceRecord struct {
	JobID    string    `json:"job_id"`
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	StoredAt time.Time `json:"stored_at"`
}

// Store writes videos through an object storage provider.
type Store struct {
	objects provider.ObjectStore
	now     func() time.Time
}

// New creates a Store backed by objects.
func New(objects provider.ObjectStore) *Store {
	return &Store{objects: objects, now: time.Now}
}

// Objects returns the underlying provider.
func (s *Store) Objects() provider.ObjectStore { return s.objects }

// JobPrefix returns the key prefix holding a job's objects, with a trailing
// slash.
func JobPrefix(jobID string) string {
	return path.Join(Prefix, jobID) + "/"
}

// Key returns the object key for a file uploaded by a job. Directory parts
// of name are dropped.
func Key(jobID, name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "video"
	}
	return path.Join(Prefix, jobID, base)
}

// StoreVideo writes an upload's payload. URL uploads (nil payload) store a
// SourceRecord instead.
func (s *Store) StoreVideo(ctx context.Context, jobID string, src job.Source, payload io.Reader) (job.UploadResult, error) {
	if payload == nil {
		if src.HasFile() {
			return job.UploadResult{}, ErrNoPayload
		}
		return s.storeSource(ctx, jobID, src)
	}

	// Read the head for sniffing and stitch it back in front of the rest.
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(payload, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return job.UploadResult{}, fmt.Errorf("read upload payload: %w", err)
	}
	head = head[:n]

	contentType := strings.TrimSpace(src.ContentType)
	if contentType == "" {
		contentType = mimetype.Detect(head).String()
	}

	size := int64(-1)
	if src.Size > 0 {
		size = src.Size
	}

	key := Key(jobID, src.FileName)
	body := &countingReader{r: io.MultiReader(bytes.NewReader(head), payload)}
	err = s.objects.PutObject(ctx, key, body, size, provider.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"job-id": jobID, "file-name": src.Name()},
	})
	if err != nil {
		return job.UploadResult{}, fmt.Errorf("store video %s: %w", key, err)
	}
	return job.UploadResult{StorageKey: key, Bytes: body.n}, nil
}

func (s *Store) storeSource(ctx context.Context, jobID string, src job.Source) (job.UploadResult, error) {
	rec := SourceRecord{
		JobID:    jobID,
		Name:     src.Name(),
		URL:      strings.TrimSpace(src.URL),
		StoredAt: s.now().UTC(),
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return job.UploadResult{}, fmt.Errorf("marshal source record: %w", err)
	}
	key := path.Join(Prefix, jobID, SourceRecordName)
	err = s.objects.PutObject(ctx, key, bytes.NewReader(b), int64(len(b)), provider.PutOptions{ContentType: "application/json"})
	if err != nil {
		return job.UploadResult{}, fmt.Errorf("store source record %s: %w", key, err)
	}
	return job.UploadResult{StorageKey: key, Bytes: int64(len(b))}, nil
}

// OpenVideo opens a stored video by key.
func (s *Store) OpenVideo(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, _, err := s.objects.GetObject(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", key, err)
	}
	return rc, nil
}

// ReadSource loads the SourceRecord of a URL upload.
func (s *Store) ReadSource(ctx context.Context, jobID string) (*SourceRecord, error) {
	key := path.Join(Prefix, jobID, SourceRecordName)
	rc, _, err := s.objects.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var rec SourceRecord
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return nil, fmt.Errorf("parse source record %s: %w", key, err)
	}
	return &rec, nil
}

// List returns the objects stored for a job. An empty jobID lists every
// stored video.
func (s *Store) List(ctx context.Context, jobID string) ([]provider.ObjectSummary, error) {
	prefix := Prefix + "/"
	if jobID != "" {
		prefix = JobPrefix(jobID)
	}

	var out []provider.ObjectSummary
	token := ""
	for {
		res, err := s.objects.List(ctx, provider.ListOptions{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		out = append(out, res.Objects...)
		if !res.IsTruncated || res.ContinuationToken == "" {
			return out, nil
		}
		token = res.ContinuationToken
	}
}

// Delete removes every object stored for a job and returns how many were
// removed.
func (s *Store) Delete(ctx context.Context, jobID string) (int, error) {
	if strings.TrimSpace(jobID) == "" {
		return 0, fmt.Errorf("job id is required")
	}
	objs, err := s.List(ctx, jobID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, o := range objs {
		if err := s.objects.DeleteObject(ctx, o.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DetectFile sniffs the content type of a local file.
func DetectFile(name string) (string, error) {
	mt, err := mimetype.DetectFile(name)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
