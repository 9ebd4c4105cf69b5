package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestLocalStore_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	assert.Equal(t, DriverLocal, store.Driver())

	loc, err := store.Put(context.Background(), "run-1/report.md", []byte("# report"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1", "report.md"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "# report", string(got))
}

func TestLocalStore_RejectsEscapingNames(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "/etc/passwd", "../x", "a/../../x"} {
		_, err := store.Put(context.Background(), name, nil, "")
		assert.Error(t, err, name)
	}
}

func TestS3Store_Put(t *testing.T) {
	fake := &fakePutter{}
	store := NewS3StoreWithClient(fake, "gasx", "/runs/")
	assert.Equal(t, DriverS3, store.Driver())

	loc, err := store.Put(context.Background(), "run-1/Gs_vs_VPD.png", []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "s3://gasx/runs/run-1/Gs_vs_VPD.png", loc)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "gasx", aws.ToString(in.Bucket))
	assert.Equal(t, "runs/run-1/Gs_vs_VPD.png", aws.ToString(in.Key))
	assert.Equal(t, "image/png", aws.ToString(in.ContentType))
	assert.Equal(t, int64(3), aws.ToInt64(in.ContentLength))
	assert.Equal(t, []byte{1, 2, 3}, fake.bodies[0])
}

func TestS3Store_NoPrefix(t *testing.T) {
	fake := &fakePutter{}
	store := NewS3StoreWithClient(fake, "gasx", "")

	loc, err := store.Put(context.Background(), "report.md", []byte("x"), "")
	require.NoError(t, err)
	assert.Equal(t, "s3://gasx/report.md", loc)
	assert.Nil(t, fake.inputs[0].ContentType)
}

func TestS3Store_UploadError(t *testing.T) {
	store := NewS3StoreWithClient(&fakePutter{err: errors.New("denied")}, "gasx", "")

	_, err := store.Put(context.Background(), "report.md", []byte("x"), "text/markdown")
	assert.ErrorContains(t, err, "denied")
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), Config{Driver: DriverLocal, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverLocal, store.Driver())

	_, err = Open(context.Background(), Config{Driver: DriverS3})
	assert.Error(t, err, "bucket is required")

	_, err = Open(context.Background(), Config{Driver: "ftp"})
	assert.Error(t, err)
}
