package media

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func probeRetries() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 3)
}

func probeFile(ctx context.Context, path string) (*ffprobe.ProbeData, error) {
	var data *ffprobe.ProbeData
	err := backoff.Retry(func() error {
		var probeErr error
		data, probeErr = ffprobe.ProbeURL(ctx, path)
		return probeErr
	}, probeRetries())
	return data, err
}

// Duration returns the media duration in seconds, or -1 when the file has no
// playable track or cannot be probed.
func Duration(ctx context.Context, path string) float64 {
	data, err := probeFile(ctx, path)
	if err != nil || data.Format == nil || data.Format.DurationSeconds <= 0 {
		return -1.0
	}
	return data.Format.DurationSeconds
}

// Dims returns the width and height of the first video stream, or (-1, -1)
// when the file has no video track.
func Dims(ctx context.Context, path string) (int, int) {
	data, err := probeFile(ctx, path)
	if err != nil {
		return -1, -1
	}
	stream := data.FirstVideoStream()
	if stream == nil {
		return -1, -1
	}
	return stream.Width, stream.Height
}
