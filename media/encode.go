// Package media wraps the ffmpeg/ffprobe operations of the answer pipeline:
// the web and mobile encode profiles, trimming, audio extraction and VTT
// subtitle synthesis.
package media

import (
	"fmt"
	"math"
	"os"

	"github.com/mentorpal/mentor-upload-api/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const (
	webMaxHeight    = 720
	webTargetAspect = 1.77777777778 // 16:9

	mobileTargetHeight = 480
)

// WebEncodeFilter computes the crop+scale video filter for the web profile
// from the source dimensions. Inputs wider than 16:9 are cropped at the
// sides, narrower ones at the top and bottom, then scaled to at most 720p
// with even output dimensions.
func WebEncodeFilter(inW, inH int) string {
	var cropW, cropH float64
	var outH int
	aspect := float64(inW) / float64(inH)
	if aspect >= webTargetAspect {
		cropW = float64(inW) - float64(inH)*webTargetAspect
		outH = int(math.Round(math.Min(webMaxHeight, float64(inH))))
	} else {
		cropH = float64(inH) - float64(inW)/webTargetAspect
		outH = int(math.Round(math.Min(webMaxHeight, float64(inW)/webTargetAspect)))
	}
	outW := int(float64(outH) * webTargetAspect)
	if outW%2 != 0 {
		outW++
	}
	if outH%2 != 0 {
		outH++
	}
	return fmt.Sprintf("crop=iw-%.0f:ih-%.0f,scale=%d:%d", cropW, cropH, outW, outH)
}

// MobileEncodeFilter computes the crop+scale filter for the square mobile
// profile. Landscape sources are zoomed in slightly before the square crop;
// portrait and square sources are only scaled.
func MobileEncodeFilter(inW, inH int) string {
	var cropW, cropH float64
	if inW > inH {
		cropH = float64(inH) * 0.25
		cropW = float64(inW) - (float64(inH) - cropH)
	}
	return fmt.Sprintf("crop=iw-%.0f:ih-%.0f,scale=%d:%d", cropW, cropH, mobileTargetHeight, mobileTargetHeight)
}

func encodeArgs(filter string) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"filter:v": filter,
		"c:v":      "libx264",
		"crf":      "23",
		"pix_fmt":  "yuv420p",
		"movflags": "+faststart",
		"c:a":      "aac",
		"ac":       "1",
	}
}

// EncodeWeb transcodes src into the web profile at dst. Dimensions of the
// source must be probed beforehand; sources with no video track cannot be
// encoded and the error is terminal.
func EncodeWeb(src, dst string, inW, inH int) error {
	if inW <= 0 || inH <= 0 {
		return errors.Unretriable(fmt.Errorf("no video track in %s", src))
	}
	err := ffmpeg.Input(src).
		Output(dst, encodeArgs(WebEncodeFilter(inW, inH))).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("web encode of %s failed: %w", src, err)
	}
	return nil
}

// EncodeMobile transcodes src into the square mobile profile at dst.
func EncodeMobile(src, dst string, inW, inH int) error {
	if inW <= 0 || inH <= 0 {
		return errors.Unretriable(fmt.Errorf("no video track in %s", src))
	}
	err := ffmpeg.Input(src).
		Output(dst, encodeArgs(MobileEncodeFilter(inW, inH))).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("mobile encode of %s failed: %w", src, err)
	}
	return nil
}

// Trim re-encodes the [startSecs, endSecs) window of src into dst.
func Trim(src, dst string, startSecs, endSecs float64) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("cannot trim %s: %w", src, err)
	}
	err := ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"ss":  fmt.Sprintf("%.3f", startSecs),
			"to":  fmt.Sprintf("%.3f", endSecs),
			"c:v": "libx264",
			"crf": "30",
		}).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("trim of %s failed: %w", src, err)
	}
	return nil
}

// ExtractAudio demuxes src into an audio file at dst, transcribers take mp3.
func ExtractAudio(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("cannot extract audio from %s: %w", src, err)
	}
	err := ffmpeg.Input(src).
		Output(dst).
		OverWriteOutput().ErrorToStdOut().Run()
	if err != nil {
		return fmt.Errorf("audio extraction from %s failed: %w", src, err)
	}
	return nil
}
