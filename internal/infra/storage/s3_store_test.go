package storage

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// fakeS3 is an in-memory s3API.
type fakeS3 struct {
	mu      sync.RWMutex
	objects map[string][]byte
	deletes int
	pageCap int32
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageCap: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > int(f.pageCap) {
		keys = keys[:f.pageCap]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for _, obj := range in.Delete.Objects {
		delete(f.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func newTestStore() (*S3Store, *fakeS3) {
	fake := newFakeS3()
	return newS3Store(fake, S3Config{Bucket: "qg", LogsPrefix: "/logs/"}, nil), fake
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarred(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(data))}))
	_, err := tw.Write(data)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestUnwrap(t *testing.T) {
	doc := []byte("overallStatus: GREEN\n")

	tests := []struct {
		name string
		in   []byte
	}{
		{"plain", doc},
		{"gzip", gzipped(t, doc)},
		{"tar", tarred(t, "qg-result.yaml", doc)},
		{"tar.gz", gzipped(t, tarred(t, "qg-result.yaml", doc))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Unwrap(tt.in)
			require.NoError(t, err)
			assert.Equal(t, doc, out)
		})
	}
}

func TestUnwrap_EmptyTar(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "only-dir/", Typeflag: tar.TypeDir, Mode: 0o755}))
	require.NoError(t, tw.Close())

	_, err := Unwrap(buf.Bytes())
	assert.Error(t, err)
}

func TestS3Store_UploadAndDownload(t *testing.T) {
	store, fake := newTestStore()
	ctx := context.Background()

	err := store.UploadConfig(ctx, "7/42/abc", map[string][]byte{
		"qg-config.yaml": []byte("metadata: {}"),
		"checks/a.yml":   []byte("a: 1"),
	})
	require.NoError(t, err)
	assert.Contains(t, fake.objects, "7/42/abc/qg-config.yaml")
	assert.Contains(t, fake.objects, "7/42/abc/checks/a.yml")

	fake.objects["7/42/abc/qg-result.yaml"] = gzipped(t, []byte("overallStatus: RED"))
	data, err := store.DownloadResult(ctx, "7/42/abc/qg-result.yaml")
	require.NoError(t, err)
	assert.Equal(t, "overallStatus: RED", string(data))
}

func TestS3Store_DownloadMissing(t *testing.T) {
	store, _ := newTestStore()

	_, err := store.DownloadResult(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestS3Store_FileExists(t *testing.T) {
	store, fake := newTestStore()
	fake.objects["a/b"] = []byte("x")

	ok, err := store.FileExists(context.Background(), "a/b")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.FileExists(context.Background(), "a/c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Store_DownloadLogs(t *testing.T) {
	store, fake := newTestStore()
	assert.Equal(t, "logs/qg-run-x1/main.log", store.LogsKey("qg-run-x1"))

	fake.objects["logs/qg-run-x1/main.log"] = tarred(t, "main.log", []byte("line one\nline two\n"))
	data, err := store.DownloadLogs(context.Background(), "qg-run-x1")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(data))
}

func TestS3Store_RemovePath(t *testing.T) {
	store, fake := newTestStore()
	for _, k := range []string{"7/42/abc/a", "7/42/abc/b", "7/42/abc/c/d", "7/42/abcd/keep", "7/43/x"} {
		fake.objects[k] = []byte("x")
	}

	require.NoError(t, store.RemovePath(context.Background(), "7/42/abc"))

	assert.Len(t, fake.objects, 2)
	assert.Contains(t, fake.objects, "7/42/abcd/keep")
	assert.Contains(t, fake.objects, "7/43/x")
	assert.Equal(t, 1, fake.deletes)
}

func TestS3Store_RemovePath_Empty(t *testing.T) {
	store, fake := newTestStore()
	require.NoError(t, store.RemovePath(context.Background(), "none"))
	assert.Zero(t, fake.deletes)
}
