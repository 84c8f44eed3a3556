package videostore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/vidsentry/pkg/job"
	"github.com/3leaps/vidsentry/pkg/provider"
	"github.com/3leaps/vidsentry/pkg/provider/file"
)

// mp4Header is the start of an ISO base media file.
var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2")

func newTestStore(t *testing.T) (*Store, *file.Provider) {
	t.Helper()
	p, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	s := New(p)
	s.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return s, p
}

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "clip.mp4", "videos/j1/clip.mp4"},
		{"nested", "cam/lobby/clip.mp4", "videos/j1/clip.mp4"},
		{"windows", `C:\clips\clip.avi`, "videos/j1/clip.avi"},
		{"traversal", "../../etc/passwd", "videos/j1/passwd"},
		{"empty", "  ", "videos/j1/video"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key("j1", tt.in))
		})
	}
	assert.Equal(t, "videos/j1/", JobPrefix("j1"))
}

func TestStoreVideo_File(t *testing.T) {
	ctx := context.Background()
	s, p := newTestStore(t)

	body := append(append([]byte{}, mp4Header...), bytes.Repeat([]byte{0x42}, 10_000)...)
	src := job.Source{FileName: "uploads/lobby.mp4", ContentType: "video/mp4", Size: int64(len(body))}

	res, err := s.StoreVideo(ctx, "j1", src, bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "videos/j1/lobby.mp4", res.StorageKey)
	assert.Equal(t, int64(len(body)), res.Bytes)

	got, err := os.ReadFile(filepath.Join(p.BaseDir(), "videos", "j1", "lobby.mp4"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestStoreVideo_SmallFileUnknownSize(t *testing.T) {
	s, _ := newTestStore(t)
	res, err := s.StoreVideo(context.Background(), "j2", job.Source{FileName: "tiny.mov"}, strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Bytes)
}

func TestStoreVideo_FileWithoutPayload(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.StoreVideo(context.Background(), "j3", job.Source{FileName: "a.mp4"}, nil)
	assert.ErrorIs(t, err, ErrNoPayload)
}

func TestStoreVideo_URLWritesSourceRecord(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	res, err := s.StoreVideo(ctx, "j4", job.Source{URL: " https://example.com/feeds/door.mp4 "}, nil)
	require.NoError(t, err)
	assert.Equal(t, "videos/j4/source.json", res.StorageKey)
	assert.Positive(t, res.Bytes)

	rec, err := s.ReadSource(ctx, "j4")
	require.NoError(t, err)
	assert.Equal(t, "j4", rec.JobID)
	assert.Equal(t, "door.mp4", rec.Name)
	assert.Equal(t, "https://example.com/feeds/door.mp4", rec.URL)
	assert.Equal(t, s.now(), rec.StoredAt)

	_, err = s.ReadSource(ctx, "missing")
	assert.True(t, provider.IsNotFound(err))
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.StoreVideo(ctx, "j5", job.Source{FileName: "a.mp4", ContentType: "video/mp4"}, bytes.NewReader(mp4Header))
	require.NoError(t, err)
	_, err = s.StoreVideo(ctx, "j6", job.Source{URL: "https://example.com/b.mp4"}, nil)
	require.NoError(t, err)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := s.List(ctx, "j5")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "videos/j5/a.mp4", one[0].Key)

	n, err := s.Delete(ctx, "j5")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.Delete(ctx, " ")
	assert.Error(t, err)
}

func TestOpenVideoRestoresSameKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	src := job.Source{FileName: "gate.mp4", ContentType: "video/mp4", Size: int64(len(mp4Header))}

	first, err := s.StoreVideo(ctx, "j7", src, bytes.NewReader(mp4Header))
	require.NoError(t, err)

	rc, err := s.OpenVideo(ctx, first.StorageKey)
	require.NoError(t, err)
	again, err := s.StoreVideo(ctx, "j7", src, rc)
	_ = rc.Close()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	rc, err = s.OpenVideo(ctx, first.StorageKey)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	_ = rc.Close()
	require.NoError(t, err)
	assert.Equal(t, mp4Header, got)

	_, err = s.OpenVideo(ctx, Key("j7", "missing.mp4"))
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

type recordingPutter struct {
	provider.ObjectStore
	opts provider.PutOptions
}

func (r *recordingPutter) PutObject(ctx context.Context, key string, body io.Reader, n int64, opts provider.PutOptions) error {
	r.opts = opts
	_, err := io.Copy(io.Discard, body)
	return err
}

func TestStoreVideo_SniffsMissingContentType(t *testing.T) {
	rec := &recordingPutter{}
	s := New(rec)

	_, err := s.StoreVideo(context.Background(), "j7", job.Source{FileName: "clip.mp4"}, bytes.NewReader(mp4Header))
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", rec.opts.ContentType)
	assert.Equal(t, "j7", rec.opts.Metadata["job-id"])
	assert.Equal(t, "clip.mp4", rec.opts.Metadata["file-name"])
}

func TestDetectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.bin")
	require.NoError(t, os.WriteFile(path, mp4Header, 0o644))

	ct, err := DetectFile(path)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", ct)

	_, err = DetectFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
