package remote

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFake_UploadDownloadRoundtrip(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.Upload(ctx, "/remote/A/hello.txt", bytes.NewReader([]byte("hello\n")), 6))

	var buf bytes.Buffer
	require.NoError(t, f.Download(ctx, "/remote/A/hello.txt", &buf))
	require.Equal(t, "hello\n", buf.String())
}

func TestFake_DownloadMissingReturnsNotFound(t *testing.T) {
	f := NewFake()
	err := f.Download(context.Background(), "/nope", &bytes.Buffer{})
	require.Error(t, err)
}

func TestFake_ChangesSinceFiltersByTimeAndPrefix(t *testing.T) {
	f := NewFake()
	t0 := time.Now().UTC()
	f.Put("/remote/A/x.txt", []byte("x"), "hashx", t0)
	f.Put("/remote/B/y.txt", []byte("y"), "hashy", t0)

	changes, err := f.ChangesSince(context.Background(), "/remote/A", t0.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "/remote/A/x.txt", changes[0].RelativePath)
}

func TestFake_UploadFailsThenSucceeds(t *testing.T) {
	f := NewFake()
	f.FailUploadsUntil = 2

	err := f.Upload(context.Background(), "/remote/A/x.txt", bytes.NewReader([]byte("x")), 1)
	require.Error(t, err)
	err = f.Upload(context.Background(), "/remote/A/x.txt", bytes.NewReader([]byte("x")), 1)
	require.Error(t, err)
	err = f.Upload(context.Background(), "/remote/A/x.txt", bytes.NewReader([]byte("x")), 1)
	require.NoError(t, err)
}
