package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranscriptToVTTSingleChunk(t *testing.T) {
	got := TranscriptToVTT("hello world", 10)
	require.Equal(t, "WEBVTT FILE:\n\n00:00:00.850 --> 00:00:10.850\nhello world\n\n", got)
}

func TestTranscriptToVTTChunksAtWordBoundaries(t *testing.T) {
	// 150 chars, a space every 10th char
	transcript := strings.Repeat("ninechars ", 15)
	doc := TranscriptToVTT(transcript, 30)

	require.True(t, strings.HasPrefix(doc, "WEBVTT FILE:\n\n"))
	cues := ParseVTT(doc)
	require.Len(t, cues, 3)

	require.InDelta(t, 0.85, cues[0].Start, 0.001)
	require.InDelta(t, 10.85, cues[0].End, 0.001)
	require.InDelta(t, 10.85, cues[1].Start, 0.001)
	require.InDelta(t, 30.85, cues[2].End, 0.001)

	// chunks split only at spaces, rejoining them restores every word
	var joined strings.Builder
	for _, c := range cues {
		joined.WriteString(c.Text)
		joined.WriteString(" ")
	}
	require.Equal(t, strings.Fields(transcript), strings.Fields(joined.String()))
}

func TestTranscriptToVTTUnusableInput(t *testing.T) {
	require.Equal(t, "", TranscriptToVTT("hello", -1))
	require.Equal(t, "", TranscriptToVTT("hello", 0))
	require.Equal(t, "", TranscriptToVTT("", 10))
}

func TestParseVTTTimestamps(t *testing.T) {
	secs, err := parseVTTTimestamp("00:01:05.500")
	require.NoError(t, err)
	require.InDelta(t, 65.5, secs, 0.001)

	secs, err = parseVTTTimestamp("01:05.500")
	require.NoError(t, err)
	require.InDelta(t, 65.5, secs, 0.001)

	_, err = parseVTTTimestamp("garbage")
	require.Error(t, err)
}

func TestParseVTTSkipsHeader(t *testing.T) {
	doc := "WEBVTT FILE:\n\n00:00:01.000 --> 00:00:02.000\nfirst line\nsecond line\n\n"
	cues := ParseVTT(doc)
	require.Len(t, cues, 1)
	require.Equal(t, "first line second line", cues[0].Text)
	require.InDelta(t, 1.0, cues[0].Start, 0.001)
}

func buildTestVTT() string {
	sb := strings.Builder{}
	sb.WriteString(vttHeader)
	sb.WriteString("00:00:00.000 --> 00:00:05.000\na\n\n")
	sb.WriteString("00:00:05.000 --> 00:00:10.000\nb\n\n")
	sb.WriteString("00:00:10.000 --> 00:00:15.000\nc\n\n")
	return sb.String()
}

func TestTrimVTTClampsAndShifts(t *testing.T) {
	doc, transcript := TrimVTT(buildTestVTT(), 4, 11)
	require.Equal(t, "a b c", transcript)

	cues := ParseVTT(doc)
	require.Len(t, cues, 3)
	require.InDelta(t, 0.0, cues[0].Start, 0.001)
	require.InDelta(t, 1.0, cues[0].End, 0.001)
	require.InDelta(t, 1.0, cues[1].Start, 0.001)
	require.InDelta(t, 6.0, cues[1].End, 0.001)
	require.InDelta(t, 7.0, cues[2].End, 0.001)
}

func TestTrimVTTDropsCuesOutsideWindow(t *testing.T) {
	doc, transcript := TrimVTT(buildTestVTT(), 5, 10)
	require.Equal(t, "b", transcript)
	cues := ParseVTT(doc)
	require.Len(t, cues, 1)
	require.InDelta(t, 0.0, cues[0].Start, 0.001)
	require.InDelta(t, 5.0, cues[0].End, 0.001)
}

func TestTrimVTTEmptyWhenNothingRetained(t *testing.T) {
	doc, transcript := TrimVTT(buildTestVTT(), 20, 30)
	require.Equal(t, "", doc)
	require.Equal(t, "", transcript)
}
