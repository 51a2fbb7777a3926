package clients

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAnswerMediaKeys(t *testing.T) {
	require.Equal(t, "videos/m1/q1/original.mp4", OriginalVideoKey("m1", "q1"))
	require.Equal(t, "videos/m1/q1/web.mp4", WebVideoKey("m1", "q1"))
	require.Equal(t, "videos/m1/q1/mobile.mp4", MobileVideoKey("m1", "q1"))
	require.Equal(t, "videos/m1/q1/en.vtt", SubtitleKey("m1", "q1"))
}

func TestThumbnailKeyIsTimestamped(t *testing.T) {
	at := time.Date(2023, 4, 5, 6, 7, 8, 0, time.UTC)
	require.Equal(t, "mentor/thumbnails/m1/20230405T060708Z/thumbnail.png", ThumbnailKey("m1", at))
}

func TestStubObjectStoreRoundTrip(t *testing.T) {
	store := NewStubObjectStore()
	dir := t.TempDir()

	src := filepath.Join(dir, "src.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video-bytes"), 0644))
	require.NoError(t, store.PutFile(context.Background(), "videos/m1/q1/original.mp4", src, "video/mp4"))

	dst := filepath.Join(dir, "dst.mp4")
	require.NoError(t, store.GetFile(context.Background(), "videos/m1/q1/original.mp4", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "video-bytes", string(data))

	keys, err := store.List(context.Background(), "videos/m1/q1")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, store.DeleteMany(context.Background(), keys))
	require.Error(t, store.GetFile(context.Background(), "videos/m1/q1/original.mp4", dst))
}
